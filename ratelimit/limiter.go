// gateway/ratelimit/limiter.go

// Package ratelimit implements the fixed-window request limiter backed by the
// cache cluster. Counting is atomic server-side; when the cluster is
// unreachable the limiter degrades to a configurable fail-open or fail-closed
// policy instead of guessing.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lattice-hq/gateway/cache"
	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
)

// fixedWindowScript increments the window counter and stamps the TTL only on
// the first increment, so a window can never outlive its configured duration.
// Returns {count, remaining window in milliseconds}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter answers whether a request from the given identifier may proceed.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Decision, error)
	Degraded() bool
}

// Config tunes the limiter.
type Config struct {
	// Window is the fixed counting window.
	Window time.Duration
	// MaxRequests is the number of requests allowed per identifier per window.
	MaxRequests int
	// Whitelist identifiers bypass counting entirely.
	Whitelist []string
	// FailOpen selects the outage policy: allow through a local fallback
	// limiter (true) or reject with a full-window retry hint (false).
	FailOpen bool
	// FallbackRPS caps throughput through the local fallback limiter while
	// the cache cluster is unreachable. Only used when FailOpen is set.
	FallbackRPS float64
}

type limiter struct {
	cache     cache.Cache
	cfg       Config
	whitelist map[string]struct{}
	degraded  atomic.Bool
	fallback  *rate.Limiter
}

// New builds the limiter on top of the cache client.
func New(cacheClient cache.Cache, cfg Config) Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 120
	}
	if cfg.FallbackRPS <= 0 {
		cfg.FallbackRPS = 5
	}

	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		canonical, err := normalizeIdentifier(id)
		if err != nil {
			logger.Warn("Skipping malformed whitelist entry", zap.String("identifier", id))
			continue
		}
		wl[canonical] = struct{}{}
	}

	burst := int(cfg.FallbackRPS)
	if burst < 1 {
		burst = 1
	}

	return &limiter{
		cache:     cacheClient,
		cfg:       cfg,
		whitelist: wl,
		fallback:  rate.NewLimiter(rate.Limit(cfg.FallbackRPS), burst),
	}
}

func (l *limiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return Decision{}, err
	}

	if _, ok := l.whitelist[id]; ok {
		// Whitelisted callers never touch the counter.
		return Decision{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests}, nil
	}

	key := cache.RateLimitKey(id)
	windowMs := l.cfg.Window.Milliseconds()

	result, err := l.cache.Eval(ctx, fixedWindowScript, []string{key}, windowMs)
	if err != nil {
		return l.degrade(id, err), nil
	}

	count, ttlMs, ok := parseWindowReply(result)
	if !ok {
		logger.Error("Unexpected rate limit script reply", zap.Any("reply", result))
		return l.degrade(id, nil), nil
	}

	if l.degraded.Swap(false) {
		logger.Info("Rate limiter recovered from degraded mode")
	}

	decision := Decision{
		Limit:     l.cfg.MaxRequests,
		Allowed:   count <= int64(l.cfg.MaxRequests),
		Remaining: remaining(l.cfg.MaxRequests, count),
	}
	if !decision.Allowed {
		decision.RetryAfter = boundedRetry(ttlMs, l.cfg.Window)
	}

	metrics.RecordRateLimit(decision.Allowed)
	return decision, nil
}

// Degraded reports whether the limiter is currently running without the
// cache cluster.
func (l *limiter) Degraded() bool {
	return l.degraded.Load()
}

// degrade applies the configured outage policy. The caller still gets a
// normal Decision; whether it is a pass or a reject is policy, not an error.
func (l *limiter) degrade(identifier string, cause error) Decision {
	if !l.degraded.Swap(true) {
		logger.Warn("Rate limiter entering degraded mode",
			zap.String("identifier", identifier),
			zap.Error(cause))
	}

	if l.cfg.FailOpen {
		metrics.RecordRateLimitDegraded("fail_open")
		allowed := l.fallback.Allow()
		decision := Decision{
			Allowed:   allowed,
			Limit:     l.cfg.MaxRequests,
			Remaining: 0,
		}
		if !allowed {
			decision.RetryAfter = boundedRetry(time.Second.Milliseconds(), l.cfg.Window)
		}
		metrics.RecordRateLimit(allowed)
		return decision
	}

	metrics.RecordRateLimitDegraded("fail_closed")
	metrics.RecordRateLimit(false)
	return Decision{
		Allowed:    false,
		Limit:      l.cfg.MaxRequests,
		Remaining:  0,
		RetryAfter: l.cfg.Window,
	}
}

// maxIdentifierLen caps counter keys at the DNS hostname bound.
const maxIdentifierLen = 253

// normalizeIdentifier canonicalizes the caller identifier so equivalent
// forms share one window. IPs collapse to their canonical text form
// (IPv4-mapped IPv6 becomes plain dotted IPv4); anything else must look
// like a hostname or key label.
func normalizeIdentifier(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" || len(id) > maxIdentifierLen {
		return "", fmt.Errorf("identifier %q: %w", identifier, errs.ErrMalformedIdentifier)
	}
	if ip := net.ParseIP(id); ip != nil {
		return ip.String(), nil
	}
	id = strings.ToLower(id)
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return "", fmt.Errorf("identifier %q: %w", identifier, errs.ErrMalformedIdentifier)
		}
	}
	return id, nil
}

func parseWindowReply(reply interface{}) (count int64, ttlMs int64, ok bool) {
	values, isSlice := reply.([]interface{})
	if !isSlice || len(values) != 2 {
		return 0, 0, false
	}
	count, countOK := values[0].(int64)
	ttlMs, ttlOK := values[1].(int64)
	return count, ttlMs, countOK && ttlOK
}

func remaining(limit int, count int64) int {
	left := int64(limit) - count
	if left < 0 {
		return 0
	}
	return int(left)
}

// boundedRetry converts a TTL reply into a retry hint that never exceeds the
// window itself.
func boundedRetry(ttlMs int64, window time.Duration) time.Duration {
	if ttlMs <= 0 {
		return window
	}
	retry := time.Duration(ttlMs) * time.Millisecond
	if retry > window {
		return window
	}
	return retry
}
