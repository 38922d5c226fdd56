// gateway/breaker/breaker.go

// Package breaker guards calls to downstream dependencies with a
// closed / open / half-open circuit. Each dependency gets its own instance,
// composed explicitly where the dependency client is constructed.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes one breaker instance.
type Settings struct {
	// ErrorThreshold is the failure ratio at which the breaker trips.
	ErrorThreshold float64
	// MinVolume is the minimum number of calls in the window before the
	// ratio is considered at all.
	MinVolume int
	// Window is the rolling period over which calls are counted.
	Window time.Duration
	// Cooldown is how long the breaker stays open before allowing a trial.
	Cooldown time.Duration
	// Timeout is the per-call budget. A call that outlives it counts as a
	// failure even if it eventually returns nil.
	Timeout time.Duration
	// IsSuccessful classifies a call result. Nil means err == nil. Context
	// deadline errors are always failures regardless of this hook.
	IsSuccessful func(err error) bool
	// OnStateChange is invoked after every transition.
	OnStateChange func(name string, from, to State)
}

// Counts is a snapshot of the rolling window.
type Counts struct {
	Requests int64
	Failures int64
}

type bucket struct {
	start    int64
	requests int64
	failures int64
}

// Breaker is a circuit breaker for a single named dependency.
type Breaker struct {
	name     string
	settings Settings

	mu            sync.Mutex
	state         State
	buckets       []bucket
	openedAt      time.Time
	trialInFlight bool

	clock func() time.Time
}

// New builds a breaker for the named dependency.
func New(name string, settings Settings) *Breaker {
	if settings.ErrorThreshold <= 0 {
		settings.ErrorThreshold = 0.5
	}
	if settings.MinVolume <= 0 {
		settings.MinVolume = 10
	}
	if settings.Window <= 0 {
		settings.Window = 30 * time.Second
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 15 * time.Second
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 500 * time.Millisecond
	}

	seconds := int(settings.Window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	b := &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		buckets:  make([]bucket, seconds),
		clock:    time.Now,
	}
	metrics.SetBreakerState(name, int(StateClosed))
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn through the breaker. When the circuit is open the call is
// rejected immediately with ErrCircuitOpen and fn is never invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allowRequest() {
		metrics.RecordBreakerShortCircuit(b.name)
		return fmt.Errorf("%s: %w", b.name, errs.ErrCircuitOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.Timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}

	b.record(b.isSuccess(callCtx, err))
	return err
}

func (b *Breaker) isSuccess(callCtx context.Context, err error) bool {
	if callCtx.Err() == context.DeadlineExceeded {
		return false
	}
	if b.settings.IsSuccessful != nil {
		return b.settings.IsSuccessful(err)
	}
	return err == nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the rolling window counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countsLocked(b.clock().Unix())
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock().Sub(b.openedAt) < b.settings.Cooldown {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		// One trial call at a time; everyone else is short-circuited.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock().Unix()
	bkt := &b.buckets[int(now)%len(b.buckets)]
	if bkt.start != now {
		bkt.start = now
		bkt.requests = 0
		bkt.failures = 0
	}
	bkt.requests++
	if !success {
		bkt.failures++
	}

	switch b.state {
	case StateClosed:
		counts := b.countsLocked(now)
		if counts.Requests >= int64(b.settings.MinVolume) &&
			float64(counts.Failures)/float64(counts.Requests) >= b.settings.ErrorThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.trialInFlight = false
		if success {
			b.resetLocked()
			b.transitionLocked(StateClosed)
		} else {
			b.openLocked()
		}
	}
}

func (b *Breaker) countsLocked(now int64) Counts {
	var counts Counts
	horizon := now - int64(len(b.buckets)) + 1
	for i := range b.buckets {
		if b.buckets[i].start >= horizon {
			counts.Requests += b.buckets[i].requests
			counts.Failures += b.buckets[i].failures
		}
	}
	return counts
}

func (b *Breaker) openLocked() {
	b.openedAt = b.clock()
	b.trialInFlight = false
	b.transitionLocked(StateOpen)
	metrics.RecordBreakerTrip(b.name)
}

func (b *Breaker) resetLocked() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	metrics.SetBreakerState(b.name, int(to))
	logger.Warn("Circuit breaker state change",
		zap.String("dependency", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
