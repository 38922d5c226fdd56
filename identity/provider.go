// gateway/identity/provider.go

// Package identity is the client for the upstream identity provider. The
// provider itself is external; the gateway only verifies tokens with it and
// resolves subject profiles. Callers wrap the provider in a circuit breaker,
// so a provider outage degrades to fast 503s instead of hanging requests.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/model"
)

// Provider is the gateway's view of the identity provider.
type Provider interface {
	// VerifyToken checks the token's signature and standing with the
	// provider and returns the claims the provider vouches for.
	VerifyToken(ctx context.Context, rawToken string) (*model.Claims, error)
	// FetchIdentity resolves the full identity of a subject.
	FetchIdentity(ctx context.Context, subjectID string) (*model.Identity, error)
}

// Config holds identity provider client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type httpProvider struct {
	baseURL string
	client  *http.Client
}

// BreakerSuccess classifies provider call results for the breaker. A rejected
// token is a healthy answer; only outages count as failures.
func BreakerSuccess(err error) bool {
	return err == nil || !errors.Is(err, errs.ErrIdentityUnavailable)
}

// NewHTTPProvider builds the HTTP client for the identity provider.
func NewHTTPProvider(cfg Config) Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &httpProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Subject   string   `json:"sub"`
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles"`
	IssuedAt  int64    `json:"iat"`
	NotBefore int64    `json:"nbf"`
	ExpiresAt int64    `json:"exp"`
}

func (p *httpProvider) VerifyToken(ctx context.Context, rawToken string) (*model.Claims, error) {
	body, err := json.Marshal(verifyRequest{Token: rawToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/token/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Error("Identity provider verify call failed", zap.Error(err))
		return nil, fmt.Errorf("identity provider verify: %v: %w", err, errs.ErrIdentityUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.ErrIdentityRejected
	default:
		logger.Error("Identity provider verify returned unexpected status",
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("identity provider verify status %d: %w", resp.StatusCode, errs.ErrIdentityUnavailable)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("identity provider verify decode: %v: %w", err, errs.ErrIdentityUnavailable)
	}
	if payload.Subject == "" {
		return nil, errs.ErrIdentityRejected
	}

	return &model.Claims{
		SubjectID: payload.Subject,
		SessionID: payload.SessionID,
		Roles:     payload.Roles,
		IssuedAt:  time.Unix(payload.IssuedAt, 0),
		NotBefore: time.Unix(payload.NotBefore, 0),
		ExpiresAt: time.Unix(payload.ExpiresAt, 0),
	}, nil
}

func (p *httpProvider) FetchIdentity(ctx context.Context, subjectID string) (*model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/subjects/"+subjectID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Error("Identity provider fetch call failed",
			zap.String("subjectID", subjectID),
			zap.Error(err))
		return nil, fmt.Errorf("identity provider fetch: %v: %w", err, errs.ErrIdentityUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.ErrIdentityNotFound
	default:
		logger.Error("Identity provider fetch returned unexpected status",
			zap.String("subjectID", subjectID),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("identity provider fetch status %d: %w", resp.StatusCode, errs.ErrIdentityUnavailable)
	}

	var ident model.Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("identity provider fetch decode: %v: %w", err, errs.ErrIdentityUnavailable)
	}
	ident.ResolvedAt = time.Now()

	return &ident, nil
}
