// gateway/gate/gate_test.go
package gate_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	"github.com/lattice-hq/gateway/gate"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/ratelimit"
	gatewaymock "github.com/lattice-hq/gateway/test/mock"
	"github.com/lattice-hq/gateway/util"
	"github.com/lattice-hq/gateway/validation"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	zap.ReplaceGlobals(logger.Log)
	os.Exit(m.Run())
}

type memberBody struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2"`
}

type fixture struct {
	limiter  *gatewaymock.MockLimiter
	tokens   *gatewaymock.MockTokenValidator
	sessions *gatewaymock.MockSessionManager
	schemas  validation.Validator
	bus      *util.EventBus
	gate     gate.Gate
}

func newFixture(t *testing.T, bus *util.EventBus) *fixture {
	t.Helper()

	schemas := validation.New(validation.Config{})
	require.NoError(t, schemas.Register("create-member", validation.PartBody, memberBody{}))

	f := &fixture{
		limiter:  new(gatewaymock.MockLimiter),
		tokens:   new(gatewaymock.MockTokenValidator),
		sessions: new(gatewaymock.MockSessionManager),
		schemas:  schemas,
		bus:      bus,
	}
	f.gate = gate.New(f.limiter, f.tokens, f.sessions, f.schemas, bus)
	return f
}

func allowAll() ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Limit: 120, Remaining: 100}
}

func memberIdentity() *model.Identity {
	return &model.Identity{SubjectID: "u1", Roles: []string{model.RoleMember}}
}

func baseRequest() gate.Request {
	return gate.Request{
		RequestID:   "req-1",
		ClientIP:    "203.0.113.9",
		BearerToken: "raw-token",
		SessionID:   "s1",
		Method:      http.MethodGet,
		Path:        "/api/v1/members",
		Permission:  model.PermMembersRead,
	}
}

func TestAuthorizeGrants(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, "203.0.113.9").Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, "raw-token", "s1").Return(memberIdentity(), nil)
	f.sessions.On("ManageSession", mock.Anything, "u1", "s1").Return(true, nil)

	grant, err := f.gate.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, "u1", grant.Identity.SubjectID)
	assert.Contains(t, grant.Permissions, model.PermMembersRead)
	assert.Contains(t, grant.Permissions, model.PermMembersWrite)
	assert.NotContains(t, grant.Permissions, model.PermAnalyticsWrite)
}

func TestAuthorizeRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, mock.Anything).
		Return(ratelimit.Decision{Allowed: false, Limit: 120, RetryAfter: 30 * time.Second}, nil)

	_, err := f.gate.Authorize(context.Background(), baseRequest())

	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, errs.CodeRateLimit, ge.Code)
	assert.Equal(t, http.StatusTooManyRequests, ge.Status)
	assert.Equal(t, 30*time.Second, ge.RetryAfter)
	f.tokens.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorizeRejectsBadTokens(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errs.ErrTokenExpired)

	_, err := f.gate.Authorize(context.Background(), baseRequest())

	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, errs.CodeAuthentication, ge.Code)
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
	f.sessions.AssertNotCalled(t, "ManageSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorizeSessionLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(memberIdentity(), nil)
	f.sessions.On("ManageSession", mock.Anything, "u1", "s1").Return(false, nil)

	_, err := f.gate.Authorize(context.Background(), baseRequest())

	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, errs.CodeSession, ge.Code)
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
}

func TestAuthorizeSessionOutageFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(memberIdentity(), nil)
	f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).
		Return(false, errs.ErrCacheUnavailable)

	_, err := f.gate.Authorize(context.Background(), baseRequest())

	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, errs.CodeDependency, ge.Code)
	assert.Equal(t, http.StatusServiceUnavailable, ge.Status)
}

func TestAuthorizePermissionDenied(t *testing.T) {
	t.Run("insufficient role", func(t *testing.T) {
		f := newFixture(t, nil)
		f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
		f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).
			Return(&model.Identity{SubjectID: "u1", Roles: []string{model.RoleGuest}}, nil)
		f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		req := baseRequest()
		req.Permission = model.PermAnalyticsWrite
		_, err := f.gate.Authorize(context.Background(), req)

		var ge *errs.GatewayError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, errs.CodeAuthorization, ge.Code)
		assert.Equal(t, http.StatusForbidden, ge.Status)
	})

	t.Run("unknown role gets a 403 not a 500", func(t *testing.T) {
		f := newFixture(t, nil)
		f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
		f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).
			Return(&model.Identity{SubjectID: "u1", Roles: []string{"superuser"}}, nil)
		f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		_, err := f.gate.Authorize(context.Background(), baseRequest())

		var ge *errs.GatewayError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, http.StatusForbidden, ge.Status)
	})
}

func TestAuthorizeEmptyPermissionAdmitsAnyAuthenticated(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Identity{SubjectID: "u1", Roles: []string{"superuser"}}, nil)
	f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	req := baseRequest()
	req.Permission = ""
	grant, err := f.gate.Authorize(context.Background(), req)

	require.NoError(t, err)
	assert.Empty(t, grant.Permissions)
}

func TestAuthorizeValidatesPayload(t *testing.T) {
	newAuthedFixture := func(t *testing.T) *fixture {
		f := newFixture(t, nil)
		f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
		f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(memberIdentity(), nil)
		f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
		return f
	}

	req := baseRequest()
	req.Method = http.MethodPost
	req.Permission = model.PermMembersWrite
	req.Schema = "create-member"

	t.Run("conforming body passes", func(t *testing.T) {
		f := newAuthedFixture(t)
		r := req
		r.Payloads = []gate.Payload{{
			Part:        validation.PartBody,
			ContentType: "application/json",
			Data:        []byte(`{"email":"ada@example.com","name":"Ada"}`),
		}}

		_, err := f.gate.Authorize(context.Background(), r)
		assert.NoError(t, err)
	})

	t.Run("violating body is a 400", func(t *testing.T) {
		f := newAuthedFixture(t)
		r := req
		r.Payloads = []gate.Payload{{
			Part:        validation.PartBody,
			ContentType: "application/json",
			Data:        []byte(`{"email":"nope"}`),
		}}

		_, err := f.gate.Authorize(context.Background(), r)

		var ge *errs.GatewayError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, errs.CodeValidation, ge.Code)
		assert.Equal(t, http.StatusBadRequest, ge.Status)
	})

	t.Run("permission check runs before payload validation", func(t *testing.T) {
		f := newFixture(t, nil)
		f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
		f.tokens.On("Validate", mock.Anything, mock.Anything, mock.Anything).
			Return(&model.Identity{SubjectID: "u1", Roles: []string{model.RoleGuest}}, nil)
		f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		r := req
		r.Payloads = []gate.Payload{{
			Part:        validation.PartBody,
			ContentType: "application/json",
			Data:        []byte(`{"email":"nope"}`),
		}}

		_, err := f.gate.Authorize(context.Background(), r)

		var ge *errs.GatewayError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, http.StatusForbidden, ge.Status)
	})
}

func TestAuthorizePublishesDecisions(t *testing.T) {
	bus := util.NewEventBus()
	decisions := make(chan model.AuthDecision, 2)
	handler := func(ctx context.Context, e util.Event) error {
		decisions <- e.Payload.(model.AuthDecision)
		return nil
	}
	bus.Subscribe(util.EventAuthGranted, handler)
	bus.Subscribe(util.EventAuthDenied, handler)

	f := newFixture(t, bus)
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(allowAll(), nil)
	f.tokens.On("Validate", mock.Anything, "raw-token", "s1").Return(memberIdentity(), nil).Once()
	f.tokens.On("Validate", mock.Anything, "raw-token", "s1").Return(nil, errs.ErrTokenRevoked)
	f.sessions.On("ManageSession", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	_, err := f.gate.Authorize(context.Background(), baseRequest())
	require.NoError(t, err)

	select {
	case d := <-decisions:
		assert.Equal(t, model.DecisionGranted, d.Decision)
		assert.Equal(t, "u1", d.SubjectID)
		assert.Equal(t, "req-1", d.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no granted decision published")
	}

	_, err = f.gate.Authorize(context.Background(), baseRequest())
	require.Error(t, err)

	select {
	case d := <-decisions:
		assert.Equal(t, model.DecisionDenied, d.Decision)
		assert.Equal(t, errs.CodeAuthentication, d.Reason)
		assert.Empty(t, d.SubjectID)
	case <-time.After(time.Second):
		t.Fatal("no denied decision published")
	}
}
