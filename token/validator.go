// gateway/token/validator.go

// Package token validates bearer tokens presented to the gateway. Validation
// is a fixed pipeline: shape check, revocation check, provider verification,
// time-validity check, session correlation, identity resolution. The cheap
// local checks run first so obviously bad tokens never cost a network call.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/lattice-hq/gateway/breaker"
	"github.com/lattice-hq/gateway/cache"
	errs "github.com/lattice-hq/gateway/errors"
	"github.com/lattice-hq/gateway/identity"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/model"
)

// defaultRevocationTTL bounds blacklist entries for tokens whose expiry
// cannot be read. No upstream token outlives a day.
const defaultRevocationTTL = 24 * time.Hour

// Validator authenticates raw bearer tokens against a presented session.
type Validator interface {
	// Validate runs the full pipeline and returns the resolved identity.
	// The sessionID is the session the client presented alongside the token;
	// it must match the session the token was issued for.
	Validate(ctx context.Context, rawToken, sessionID string) (*model.Identity, error)
	// Revoke blacklists a token. With ttl <= 0 the entry lives as long as
	// the token itself would have.
	Revoke(ctx context.Context, rawToken string, ttl time.Duration) error
}

// Config holds token validation settings.
type Config struct {
	// IdentityTTLCap bounds identity cache entries. The effective TTL is the
	// remaining token lifetime, capped here.
	IdentityTTLCap time.Duration
	// RevokedTTL is how long a revocation verdict is held in process memory
	// before the cache cluster is consulted again.
	RevokedTTL time.Duration
}

type validator struct {
	cache    cache.Cache
	provider identity.Provider
	brk      *breaker.Breaker
	cfg      Config
	revoked  *ttlcache.Cache[string, struct{}]
	parser   *jwt.Parser
	clock    func() time.Time
}

// New builds the token validator. The breaker guards calls to the identity
// provider and is composed here explicitly.
func New(c cache.Cache, provider identity.Provider, brk *breaker.Breaker, cfg Config) Validator {
	if cfg.IdentityTTLCap <= 0 {
		cfg.IdentityTTLCap = 15 * time.Minute
	}
	if cfg.RevokedTTL <= 0 {
		cfg.RevokedTTL = 5 * time.Minute
	}

	revoked := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.RevokedTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go revoked.Start()

	return &validator{
		cache:    c,
		provider: provider,
		brk:      brk,
		cfg:      cfg,
		revoked:  revoked,
		parser:   jwt.NewParser(),
		clock:    time.Now,
	}
}

func (v *validator) Validate(ctx context.Context, rawToken, sessionID string) (*model.Identity, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("empty token: %w", errs.ErrTokenMalformed)
	}

	if err := v.checkShape(rawToken); err != nil {
		return nil, err
	}
	if err := v.checkRevocation(ctx, rawToken); err != nil {
		return nil, err
	}

	claims, err := v.verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	now := v.clock()
	if now.Before(claims.NotBefore) {
		return nil, errs.ErrTokenNotYetValid
	}
	if !claims.ExpiresAt.After(now) {
		return nil, errs.ErrTokenExpired
	}
	if claims.SessionID != sessionID {
		logger.Warn("Token presented with a foreign session",
			zap.String("subjectID", claims.SubjectID))
		return nil, errs.ErrSessionMismatch
	}

	return v.resolveIdentity(ctx, claims)
}

// checkShape rejects tokens that are not structurally valid JWTs, that lack
// the claims the gateway depends on, or that are outside their validity
// window by their own account. The signature is the provider's business;
// nothing here is trusted beyond being well formed. Rejecting on unverified
// claims is safe; a token can only talk itself out of access, never in.
func (v *validator) checkShape(rawToken string) error {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(rawToken, claims); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrTokenMalformed)
	}
	for _, name := range []string{"sub", "sid", "exp"} {
		if _, ok := claims[name]; !ok {
			return fmt.Errorf("missing %s claim: %w", name, errs.ErrTokenMalformed)
		}
	}
	if nbf, err := claims.GetNotBefore(); err != nil {
		return fmt.Errorf("unreadable nbf claim: %w", errs.ErrTokenMalformed)
	} else if nbf != nil && v.clock().Before(nbf.Time) {
		return errs.ErrTokenNotYetValid
	}
	if exp, err := claims.GetExpirationTime(); err != nil {
		return fmt.Errorf("unreadable exp claim: %w", errs.ErrTokenMalformed)
	} else if exp != nil && !exp.Time.After(v.clock()) {
		return errs.ErrTokenExpired
	}
	return nil
}

// checkRevocation consults the local verdict cache, then the cluster
// blacklist. A cache outage fails closed: the token is not accepted just
// because the blacklist cannot be read.
func (v *validator) checkRevocation(ctx context.Context, rawToken string) error {
	hash := HashToken(rawToken)
	if v.revoked.Has(hash) {
		return errs.ErrTokenRevoked
	}

	found, err := v.cache.Exists(ctx, cache.BlacklistKey(hash))
	if err != nil {
		return fmt.Errorf("revocation check: %w", err)
	}
	if found {
		v.revoked.Set(hash, struct{}{}, ttlcache.DefaultTTL)
		return errs.ErrTokenRevoked
	}
	return nil
}

func (v *validator) verify(ctx context.Context, rawToken string) (*model.Claims, error) {
	var claims *model.Claims
	err := v.brk.Execute(ctx, func(ctx context.Context) error {
		c, err := v.provider.VerifyToken(ctx, rawToken)
		if err != nil {
			return err
		}
		claims = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// resolveIdentity reads the identity cache and falls back to the provider.
// An unreadable cache degrades to a provider fetch; the provider stays the
// source of truth.
func (v *validator) resolveIdentity(ctx context.Context, claims *model.Claims) (*model.Identity, error) {
	key := cache.IdentityKey(claims.SubjectID)

	raw, err := v.cache.Get(ctx, key)
	if err == nil {
		var ident model.Identity
		if jsonErr := json.Unmarshal(raw, &ident); jsonErr == nil {
			return &ident, nil
		}
		logger.Warn("Discarding undecodable identity cache entry",
			zap.String("subjectID", claims.SubjectID))
	} else if !errors.Is(err, errs.ErrCacheMiss) {
		logger.Warn("Identity cache read failed, falling back to provider",
			zap.String("subjectID", claims.SubjectID),
			zap.Error(err))
	}

	var ident *model.Identity
	err = v.brk.Execute(ctx, func(ctx context.Context) error {
		i, err := v.provider.FetchIdentity(ctx, claims.SubjectID)
		if err != nil {
			return err
		}
		ident = i
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.cacheIdentity(ctx, key, claims, ident)
	return ident, nil
}

// cacheIdentity stores the resolved identity with a TTL no longer than the
// token's remaining lifetime. Failures are logged and swallowed; caching is
// an optimization, not a dependency.
func (v *validator) cacheIdentity(ctx context.Context, key string, claims *model.Claims, ident *model.Identity) {
	ttl := claims.RemainingLifetime(v.clock())
	if ttl > v.cfg.IdentityTTLCap {
		ttl = v.cfg.IdentityTTLCap
	}
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(ident)
	if err != nil {
		logger.Error("Failed to encode identity for caching",
			zap.String("subjectID", ident.SubjectID),
			zap.Error(err))
		return
	}
	if err := v.cache.Set(ctx, key, raw, ttl); err != nil {
		logger.Warn("Failed to cache identity",
			zap.String("subjectID", ident.SubjectID),
			zap.Error(err))
	}
}

func (v *validator) Revoke(ctx context.Context, rawToken string, ttl time.Duration) error {
	if rawToken == "" {
		return fmt.Errorf("empty token: %w", errs.ErrTokenMalformed)
	}
	if ttl <= 0 {
		ttl = v.revocationTTL(rawToken)
	}

	hash := HashToken(rawToken)
	if err := v.cache.Set(ctx, cache.BlacklistKey(hash), []byte("1"), ttl); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	v.revoked.Set(hash, struct{}{}, ttlcache.DefaultTTL)

	logger.Info("Token revoked",
		zap.String("tokenHash", hash[:12]),
		zap.Duration("ttl", ttl))
	return nil
}

// revocationTTL derives the blacklist TTL from the token's own expiry. A
// blacklist entry only needs to outlive the token it blocks.
func (v *validator) revocationTTL(rawToken string) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(rawToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if remaining := exp.Time.Sub(v.clock()); remaining > 0 {
				return remaining
			}
		}
	}
	return defaultRevocationTTL
}
