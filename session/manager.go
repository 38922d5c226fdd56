// gateway/session/manager.go

// Package session enforces the concurrent session limit per subject. The
// session set is authoritative and admission happens server-side in one
// atomic script, so the limit holds under concurrent logins. Each live
// session also carries a session-activity key other services can probe.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-hq/gateway/cache"
	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
)

// admissionScript prunes expired sessions, refreshes a returning session, and
// admits a new one only if the set still has room. Session deadlines live as
// sorted-set scores on the one session-set key, which keeps the whole
// decision atomic. Returns {admitted, pruned}.
var admissionScript = redis.NewScript(`
local pruned = redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {1, pruned}
end
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {1, pruned}
end
return {0, pruned}
`)

// pruneScript drops expired sessions and reports how many remain.
var pruneScript = redis.NewScript(`
local pruned = redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return {redis.call('ZCARD', KEYS[1]), pruned}
`)

// removeScript takes one session out of the set.
var removeScript = redis.NewScript(`
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// Manager tracks and limits concurrent sessions per subject.
type Manager interface {
	// ManageSession admits, refreshes or rejects the (subject, session)
	// pair. The boolean is the admission decision; a non-nil error means
	// the decision could not be made at all.
	ManageSession(ctx context.Context, subjectID, sessionID string) (bool, error)
	// EndSession removes the session from the subject's set and drops its
	// activity key.
	EndSession(ctx context.Context, subjectID, sessionID string) error
	// ActiveSessions counts the subject's live sessions after pruning.
	ActiveSessions(ctx context.Context, subjectID string) (int, error)
	// SweepExpired prunes expired sessions across all subjects. Meant to
	// run periodically in the background; admission never depends on it.
	SweepExpired(ctx context.Context) error
}

// Config tunes the session manager.
type Config struct {
	MaxConcurrent int
	ActivityTTL   time.Duration
}

type manager struct {
	cache cache.Cache
	cfg   Config
	clock func() time.Time
}

// NewManager builds the session manager on top of the cache client.
func NewManager(cacheClient cache.Cache, cfg Config) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.ActivityTTL <= 0 {
		cfg.ActivityTTL = 30 * time.Minute
	}
	return &manager{
		cache: cacheClient,
		cfg:   cfg,
		clock: time.Now,
	}
}

func (m *manager) ManageSession(ctx context.Context, subjectID, sessionID string) (bool, error) {
	if subjectID == "" || sessionID == "" {
		return false, errs.ErrSessionNotFound
	}

	now := m.clock()
	deadline := now.Add(m.cfg.ActivityTTL)

	result, err := m.cache.Eval(ctx, admissionScript,
		[]string{cache.SessionSetKey(subjectID)},
		sessionID,
		m.cfg.MaxConcurrent,
		now.UnixMilli(),
		deadline.UnixMilli(),
		m.cfg.ActivityTTL.Milliseconds(),
	)
	if err != nil {
		// The set is unreachable, so the limit cannot be enforced. Fail
		// closed rather than admit an unbounded number of sessions.
		return false, err
	}

	flag, pruned, ok := parsePair(result)
	if !ok {
		return false, fmt.Errorf("unexpected session admission reply: %v", result)
	}
	admitted := flag == 1

	if pruned > 0 {
		metrics.RecordSessionsPruned(int(pruned))
	}
	metrics.RecordSessionDecision(admitted)

	if !admitted {
		logger.Warn("Session rejected at concurrency limit",
			zap.String("subjectID", subjectID),
			zap.String("sessionID", sessionID),
			zap.Int("maxConcurrent", m.cfg.MaxConcurrent))
		return false, nil
	}

	// Mirror the liveness key for external probes. The admission already
	// happened, so a failure here only degrades visibility.
	if err := m.cache.Set(ctx, cache.SessionActivityKey(sessionID), []byte(subjectID), m.cfg.ActivityTTL); err != nil {
		logger.Warn("Failed to refresh session activity key",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	return true, nil
}

func (m *manager) EndSession(ctx context.Context, subjectID, sessionID string) error {
	if subjectID == "" || sessionID == "" {
		return errs.ErrSessionNotFound
	}

	if _, err := m.cache.Eval(ctx, removeScript,
		[]string{cache.SessionSetKey(subjectID)}, sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if err := m.cache.Delete(ctx, cache.SessionActivityKey(sessionID)); err != nil {
		logger.Warn("Failed to delete session activity key",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}

	logger.Info("Session ended",
		zap.String("subjectID", subjectID),
		zap.String("sessionID", sessionID))
	return nil
}

func (m *manager) ActiveSessions(ctx context.Context, subjectID string) (int, error) {
	result, err := m.cache.Eval(ctx, pruneScript,
		[]string{cache.SessionSetKey(subjectID)}, m.clock().UnixMilli())
	if err != nil {
		return 0, err
	}

	count, pruned, ok := parsePair(result)
	if !ok {
		return 0, fmt.Errorf("unexpected session count reply: %v", result)
	}
	if pruned > 0 {
		metrics.RecordSessionsPruned(int(pruned))
	}
	return int(count), nil
}

// SweepExpired walks every session set and prunes expired members. A cluster
// wide lock keeps concurrent gateway instances from duplicating the work.
func (m *manager) SweepExpired(ctx context.Context) error {
	acquired, err := m.cache.SetNX(ctx, "lock:session-sweep", []byte("1"), time.Minute)
	if err != nil {
		return fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !acquired {
		logger.Debug("Session sweep already running elsewhere")
		return nil
	}

	keys, err := m.cache.ScanKeys(ctx, "session-set:*")
	if err != nil {
		return fmt.Errorf("failed to scan session sets: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	// Limit concurrency to avoid hammering the cluster
	semaphore := make(chan struct{}, 10)

	nowMs := m.clock().UnixMilli()
	for _, key := range keys {
		key := key
		g.Go(func() error {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result, err := m.cache.Eval(ctx, pruneScript, []string{key}, nowMs)
			if err != nil {
				return err
			}
			if _, pruned, ok := parsePair(result); ok && pruned > 0 {
				metrics.RecordSessionsPruned(int(pruned))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Session sweep failed", zap.Error(err))
		return fmt.Errorf("session sweep: %w", err)
	}

	logger.Info("Session sweep completed", zap.Int("sets", len(keys)))
	return nil
}

func parsePair(reply interface{}) (first, second int64, ok bool) {
	values, isSlice := reply.([]interface{})
	if !isSlice || len(values) != 2 {
		return 0, 0, false
	}
	first, firstOK := values[0].(int64)
	second, secondOK := values[1].(int64)
	return first, second, firstOK && secondOK
}
