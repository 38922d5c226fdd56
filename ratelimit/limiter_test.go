// gateway/ratelimit/limiter_test.go
package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/ratelimit"
	gatewaymock "github.com/lattice-hq/gateway/test/mock"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	zap.ReplaceGlobals(logger.Log)
	os.Exit(m.Run())
}

func testConfig() ratelimit.Config {
	return ratelimit.Config{
		Window:      time.Minute,
		MaxRequests: 5,
		Whitelist:   []string{"127.0.0.1"},
		FailOpen:    true,
		FallbackRPS: 5,
	}
}

func evalReply(count, ttlMs int64) []interface{} {
	return []interface{}{count, ttlMs}
}

func TestAllowWithinLimit(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	mockCache.On("Eval", mock.Anything, mock.Anything, []string{"ratelimit:member-42"}, mock.Anything).
		Return(evalReply(1, 59000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "member-42")

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 5, decision.Limit)
	assert.Equal(t, 4, decision.Remaining)
	assert.Zero(t, decision.RetryAfter)
	mockCache.AssertExpectations(t)
}

func TestBoundaryCountEqualsLimit(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(evalReply(5, 10000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "member-42")

	require.NoError(t, err)
	assert.True(t, decision.Allowed, "request number limit is still allowed")
	assert.Equal(t, 0, decision.Remaining)
}

func TestRejectOverLimit(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(evalReply(6, 30000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "member-42")

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, 30*time.Second, decision.RetryAfter)
}

func TestRetryAfterNeverExceedsWindow(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	// A TTL reply larger than the window must still be capped.
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(evalReply(6, 120000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "member-42")

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
	assert.Equal(t, time.Minute, decision.RetryAfter)
}

func TestWhitelistBypassesCounting(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)

	l := ratelimit.New(mockCache, testConfig())
	for i := 0; i < 50; i++ {
		decision, err := l.Allow(context.Background(), "127.0.0.1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	assert.Empty(t, mockCache.Calls, "whitelisted identifiers must cause zero cache operations")
}

func TestMalformedIdentifierRejected(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	l := ratelimit.New(mockCache, testConfig())

	for _, id := range []string{
		"",
		"   ",
		"host name with spaces",
		"evil;DEL ratelimit",
		strings.Repeat("a", 254),
	} {
		_, err := l.Allow(context.Background(), id)
		assert.ErrorIs(t, err, errs.ErrMalformedIdentifier, "identifier %q", id)
	}

	assert.Empty(t, mockCache.Calls, "malformed identifiers must never reach the cache")
}

func TestEquivalentIdentifierFormsShareOneWindow(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	// Both spellings must count against the same key.
	mockCache.On("Eval", mock.Anything, mock.Anything, []string{"ratelimit:192.168.0.1"}, mock.Anything).
		Return(evalReply(1, 59000), nil).Once()
	mockCache.On("Eval", mock.Anything, mock.Anything, []string{"ratelimit:192.168.0.1"}, mock.Anything).
		Return(evalReply(2, 58000), nil).Once()
	mockCache.On("Eval", mock.Anything, mock.Anything, []string{"ratelimit:api.example.com"}, mock.Anything).
		Return(evalReply(1, 59000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())

	first, err := l.Allow(context.Background(), "192.168.0.1")
	require.NoError(t, err)
	assert.Equal(t, 4, first.Remaining)

	second, err := l.Allow(context.Background(), "::ffff:192.168.0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, second.Remaining, "the mapped form shares the dotted form's window")

	_, err = l.Allow(context.Background(), "API.Example.COM")
	require.NoError(t, err)
	mockCache.AssertExpectations(t)
}

func TestWhitelistMatchesEquivalentForms(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "::ffff:127.0.0.1")

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, mockCache.Calls)
}

func TestFailOpenOnOutage(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	outage := fmt.Errorf("cache eval: %w", errs.ErrCacheUnavailable)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, outage).Once()
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(evalReply(1, 59000), nil).Once()

	l := ratelimit.New(mockCache, testConfig())

	decision, err := l.Allow(context.Background(), "member-42")
	require.NoError(t, err, "outage is policy, not an error")
	assert.True(t, decision.Allowed, "fail-open admits through the local fallback")
	assert.True(t, l.Degraded())

	// The next successful cache reply clears degraded mode.
	decision, err = l.Allow(context.Background(), "member-42")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, l.Degraded())
}

func TestFailClosedOnOutage(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	outage := fmt.Errorf("cache eval: %w", errs.ErrCacheUnavailable)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, outage).Once()

	cfg := testConfig()
	cfg.FailOpen = false
	l := ratelimit.New(mockCache, cfg)

	decision, err := l.Allow(context.Background(), "member-42")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, cfg.Window, decision.RetryAfter, "fail-closed rejects with the full window")
	assert.True(t, l.Degraded())
}

func TestFallbackThrottlesWhileDegraded(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	outage := fmt.Errorf("cache eval: %w", errs.ErrCacheUnavailable)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, outage)

	cfg := testConfig()
	cfg.FallbackRPS = 1
	l := ratelimit.New(mockCache, cfg)

	first, err := l.Allow(context.Background(), "member-42")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := l.Allow(context.Background(), "member-42")
	require.NoError(t, err)
	assert.False(t, second.Allowed, "local fallback must throttle after the burst")
	assert.Greater(t, second.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, second.RetryAfter, cfg.Window)
}

func TestMalformedScriptReplyDegrades(t *testing.T) {
	mockCache := new(gatewaymock.MockCache)
	mockCache.On("Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("garbage", nil).Once()

	l := ratelimit.New(mockCache, testConfig())
	decision, err := l.Allow(context.Background(), "member-42")

	require.NoError(t, err)
	assert.True(t, decision.Allowed, "fail-open policy applies to malformed replies too")
	assert.True(t, l.Degraded())
}
