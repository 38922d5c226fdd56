// gateway/session/redis_test.go
package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/gateway/breaker"
	"github.com/lattice-hq/gateway/cache"
	"github.com/lattice-hq/gateway/session"
)

func newIntegrationCache(t *testing.T) cache.Cache {
	t.Helper()
	brk := breaker.New(fmt.Sprintf("session-it-%d", time.Now().UnixNano()), breaker.Settings{
		ErrorThreshold: 0.5,
		MinVolume:      10,
		Window:         30 * time.Second,
		Cooldown:       15 * time.Second,
		Timeout:        time.Second,
		IsSuccessful:   cache.BreakerSuccess,
	})
	c, err := cache.New(cache.Options{
		Addresses:   []string{"localhost:6379"},
		DialTimeout: 2 * time.Second,
	}, brk)
	if err != nil {
		t.Skipf("Skipping integration test: cache cluster not available (%v)", err)
	}
	return c
}

func TestSessionLimitIntegration(t *testing.T) {
	c := newIntegrationCache(t)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("LimitAndRecovery", func(t *testing.T) {
		subject := fmt.Sprintf("it-u1-%d", time.Now().UnixNano())
		m := session.NewManager(c, session.Config{
			MaxConcurrent: 3,
			ActivityTTL:   200 * time.Millisecond,
		})

		for _, sid := range []string{"s1", "s2", "s3"} {
			admitted, err := m.ManageSession(ctx, subject, sid)
			require.NoError(t, err)
			assert.True(t, admitted, "session %s should be admitted", sid)
		}

		admitted, err := m.ManageSession(ctx, subject, "s4")
		require.NoError(t, err)
		assert.False(t, admitted, "fourth concurrent session must be rejected")

		// Repeating a live session is a refresh, never a rejection.
		admitted, err = m.ManageSession(ctx, subject, "s2")
		require.NoError(t, err)
		assert.True(t, admitted)

		// After the activity window lapses the old sessions are pruned
		// lazily and a new one fits.
		time.Sleep(250 * time.Millisecond)
		admitted, err = m.ManageSession(ctx, subject, "s4")
		require.NoError(t, err)
		assert.True(t, admitted, "s4 should be admitted after the others expired")

		count, err := m.ActiveSessions(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("LimitHoldsUnderConcurrency", func(t *testing.T) {
		subject := fmt.Sprintf("it-u2-%d", time.Now().UnixNano())
		m := session.NewManager(c, session.Config{
			MaxConcurrent: 3,
			ActivityTTL:   time.Minute,
		})

		var wg sync.WaitGroup
		admittedCount := make(chan bool, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				admitted, err := m.ManageSession(ctx, subject, fmt.Sprintf("s%d", i))
				if err == nil {
					admittedCount <- admitted
				}
			}(i)
		}
		wg.Wait()
		close(admittedCount)

		admissions := 0
		for admitted := range admittedCount {
			if admitted {
				admissions++
			}
		}
		assert.Equal(t, 3, admissions, "the set must never exceed the limit under concurrency")

		count, err := m.ActiveSessions(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("EndSessionFreesASlot", func(t *testing.T) {
		subject := fmt.Sprintf("it-u3-%d", time.Now().UnixNano())
		m := session.NewManager(c, session.Config{
			MaxConcurrent: 2,
			ActivityTTL:   time.Minute,
		})

		for _, sid := range []string{"a", "b"} {
			admitted, err := m.ManageSession(ctx, subject, sid)
			require.NoError(t, err)
			require.True(t, admitted)
		}

		admitted, err := m.ManageSession(ctx, subject, "c")
		require.NoError(t, err)
		require.False(t, admitted)

		require.NoError(t, m.EndSession(ctx, subject, "a"))

		admitted, err = m.ManageSession(ctx, subject, "c")
		require.NoError(t, err)
		assert.True(t, admitted, "ending a session frees a slot")
	})
}
