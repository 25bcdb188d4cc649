package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

// String returns the conventional state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrCircuitOpen is returned when a call is short-circuited because
// the dependency's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Snapshot is a point-in-time copy of breaker state for reporting.
type Snapshot struct {
	DependencyID     string       `json:"dependency_id"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	FailureThreshold int          `json:"failure_threshold"`
	NextRetryAt      time.Time    `json:"next_retry_at,omitempty"`
}

// Breaker guards one dependency. Closed counts consecutive failures;
// at the threshold it opens and short-circuits all calls until the
// retry deadline, after which exactly one probe is allowed through
// (half-open). A successful probe closes the breaker and resets the
// count; a failed probe reopens it with a strictly larger backoff,
// capped at the ceiling.
type Breaker struct {
	mu           sync.Mutex
	dependency   string
	state        BreakerState
	failureCount int
	threshold    int
	backoff      time.Duration
	initial      time.Duration
	ceiling      time.Duration
	multiplier   float64
	nextRetryAt  time.Time
	probing      bool
	now          func() time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(dependency string, cfg config.ResilienceConfig) *Breaker {
	initial := cfg.InitialBackoff.Duration()
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := cfg.MaxBackoff.Duration()
	if ceiling < initial {
		ceiling = initial
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	b := &Breaker{
		dependency: dependency,
		threshold:  threshold,
		backoff:    initial,
		initial:    initial,
		ceiling:    ceiling,
		multiplier: multiplier,
		now:        time.Now,
	}
	metrics.BreakerState.WithLabelValues(dependency).Set(0)
	return b
}

// Allow reports whether a call to the dependency may proceed. When it
// may, the returned done function must be called with the call's
// outcome. During half-open only one probe is in flight; concurrent
// callers are treated as open.
func (b *Breaker) Allow() (done func(error), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextRetryAt) {
			return nil, false
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return nil, false
		}
		b.probing = true
		return b.probeDone, true
	default: // StateClosed
		return b.callDone, true
	}
}

// callDone records the outcome of a normal (closed-state) call.
func (b *Breaker) callDone(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failureCount = 0
		return
	}
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.trip()
	}
}

// probeDone records the outcome of the single half-open probe.
func (b *Breaker) probeDone(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		b.setState(StateClosed)
		b.failureCount = 0
		b.backoff = b.initial
		b.nextRetryAt = time.Time{}
		return
	}
	b.backoff = min(time.Duration(float64(b.backoff)*b.multiplier), b.ceiling)
	b.trip()
}

// trip opens the breaker and schedules the next probe. Must be called
// with the lock held.
func (b *Breaker) trip() {
	b.setState(StateOpen)
	b.nextRetryAt = b.now().Add(b.backoff)
}

// setState transitions and updates the state gauge. Must be called
// with the lock held.
func (b *Breaker) setState(s BreakerState) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.dependency).Set(float64(s))
}

// State returns the current state, accounting for an elapsed retry
// deadline (an open breaker past its deadline reports half-open).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.nextRetryAt) {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns a copy of the breaker's state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		DependencyID:     b.dependency,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.threshold,
		NextRetryAt:      b.nextRetryAt,
	}
}
