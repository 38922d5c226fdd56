// gateway/identity/provider_test.go
package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	"github.com/lattice-hq/gateway/identity"
	logger "github.com/lattice-hq/gateway/logging"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	zap.ReplaceGlobals(logger.Log)
	os.Exit(m.Run())
}

func TestVerifyToken(t *testing.T) {
	t.Run("valid token returns claims", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/token/verify", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"sub":"u1","sid":"s1","roles":["member"],"iat":1700000000,"nbf":1700000000,"exp":1700003600}`))
		}))
		defer srv.Close()

		p := identity.NewHTTPProvider(identity.Config{BaseURL: srv.URL, Timeout: time.Second})
		claims, err := p.VerifyToken(context.Background(), "token-bytes")

		require.NoError(t, err)
		assert.Equal(t, "u1", claims.SubjectID)
		assert.Equal(t, "s1", claims.SessionID)
		assert.Equal(t, []string{"member"}, claims.Roles)
		assert.Equal(t, time.Unix(1700003600, 0), claims.ExpiresAt)
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := identity.NewHTTPProvider(identity.Config{BaseURL: srv.URL, Timeout: time.Second})
		_, err := p.VerifyToken(context.Background(), "bad-token")

		assert.ErrorIs(t, err, errs.ErrIdentityRejected)
	})

	t.Run("provider 5xx is an outage not an auth failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		p := identity.NewHTTPProvider(identity.Config{BaseURL: srv.URL, Timeout: time.Second})
		_, err := p.VerifyToken(context.Background(), "token-bytes")

		assert.ErrorIs(t, err, errs.ErrIdentityUnavailable)
		assert.NotErrorIs(t, err, errs.ErrIdentityRejected)
	})

	t.Run("unreachable provider is an outage", func(t *testing.T) {
		p := identity.NewHTTPProvider(identity.Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		_, err := p.VerifyToken(context.Background(), "token-bytes")

		assert.ErrorIs(t, err, errs.ErrIdentityUnavailable)
	})
}

func TestFetchIdentity(t *testing.T) {
	t.Run("resolves identity", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/subjects/u1", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"subject_id":"u1","display_name":"Ada","roles":["member","moderator"]}`))
		}))
		defer srv.Close()

		p := identity.NewHTTPProvider(identity.Config{BaseURL: srv.URL, Timeout: time.Second})
		ident, err := p.FetchIdentity(context.Background(), "u1")

		require.NoError(t, err)
		assert.Equal(t, "u1", ident.SubjectID)
		assert.Equal(t, []string{"member", "moderator"}, ident.Roles)
		assert.False(t, ident.ResolvedAt.IsZero())
	})

	t.Run("unknown subject", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		p := identity.NewHTTPProvider(identity.Config{BaseURL: srv.URL, Timeout: time.Second})
		_, err := p.FetchIdentity(context.Background(), "nobody")

		assert.ErrorIs(t, err, errs.ErrIdentityNotFound)
	})
}
