// Package resilience detects, isolates, and recovers from failures of
// the telemetry backends themselves. It owns one circuit breaker per
// monitored dependency, classifies raw errors into failure records,
// runs the retry policy, and derives the system-wide degradation
// level from the set of unresolved failures.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsgate/internal/backend"
	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
	"github.com/fyrsmithlabs/opsgate/internal/rotate"
)

// Monitored dependency IDs.
const (
	DepBackend = "backend"
	DepStorage = "storage"
	DepNetwork = "network"
)

// depFailureTypes maps a dependency to the failure types its recovery
// resolves.
var depFailureTypes = map[string][]FailureType{
	DepBackend: {FailureBackendUnavailable},
	DepStorage: {FailureStorageExhausted, FailureWriteFailure},
	DepNetwork: {FailureNetworkError},
}

// SegmentPruner frees log storage by deleting the oldest sealed
// segments. Implemented by rotate.Rotator.
type SegmentPruner interface {
	PruneOldest(n int) (int, error)
}

// Manager owns breaker and failure state for one process. All state
// is instance-scoped and in-memory; it resets on restart.
type Manager struct {
	mu       sync.Mutex
	cfg      config.ResilienceConfig
	log      *zap.Logger
	breakers map[string]*Breaker
	failures map[FailureType]*FailureRecord
	level    DegradationLevel
	pruner   SegmentPruner
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPruner wires the segment pruner used to recover from
// storage-exhausted failures.
func WithPruner(p SegmentPruner) Option {
	return func(m *Manager) { m.pruner = p }
}

// NewManager creates a manager with all breakers closed and no
// recorded failures.
func NewManager(cfg config.ResilienceConfig, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*Breaker),
		failures: make(map[FailureType]*FailureRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.DegradationLevel.Set(0)
	return m
}

// Breaker returns the breaker for a dependency, creating it closed on
// first use.
func (m *Manager) Breaker(dep string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	br, ok := m.breakers[dep]
	if !ok {
		br = NewBreaker(dep, m.cfg)
		m.breakers[dep] = br
	}
	return br
}

// Do runs op against a dependency under its circuit breaker, applying
// the classified retry policy. A short-circuited call returns
// ErrCircuitOpen without attempting the operation. Outcomes update
// failure records and the degradation level.
func (m *Manager) Do(ctx context.Context, dep string, op func(context.Context) error) error {
	br := m.Breaker(dep)
	done, ok := br.Allow()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, dep)
	}

	err := m.attempt(ctx, op)
	done(err)

	if err != nil {
		m.ReportFailure(m.Classify(err))
		return err
	}
	m.ReportRecovery(dep)
	return nil
}

// attempt runs op with the retry policy for its failure class:
// network errors retry with exponential backoff up to the attempt
// cap, write failures retry once immediately, everything else fails
// fast.
func (m *Manager) attempt(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	switch m.Classify(err) {
	case FailureNetworkError:
		return m.retryNetwork(ctx, op)
	case FailureWriteFailure:
		// One immediate retry, then degrade.
		if retryErr := op(ctx); retryErr == nil {
			return nil
		}
		return err
	default:
		return err
	}
}

// retryNetwork retries op with exponential backoff while the error
// stays transient. Attempts are capped; the original classification
// escalates to the breaker when retries are exhausted.
func (m *Manager) retryNetwork(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff.Duration()
	bo.Multiplier = m.cfg.BackoffMultiplier
	bo.MaxInterval = m.cfg.MaxBackoff.Duration()

	maxTries := m.cfg.RetryMaxAttempts
	if maxTries <= 0 {
		maxTries = 3
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr := op(ctx)
		if opErr == nil {
			return struct{}{}, nil
		}
		if m.Classify(opErr) != FailureNetworkError {
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxTries)))
	return err
}

// Classify maps a raw error onto the failure taxonomy.
func (m *Manager) Classify(err error) FailureType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rotate.ErrStorageExhausted):
		return FailureStorageExhausted
	case errors.Is(err, backend.ErrUnavailable):
		return FailureBackendUnavailable
	case isNetworkError(err):
		return FailureNetworkError
	default:
		return FailureWriteFailure
	}
}

// isNetworkError reports transient connectivity failures.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ReportFailure records an observed failure, runs its degrade-side
// recovery action, and recomputes the degradation level.
func (m *Manager) ReportFailure(ft FailureType) DegradationLevel {
	if ft == "" {
		return m.Level()
	}
	metrics.FailuresTotal.WithLabelValues(string(ft)).Inc()

	m.mu.Lock()
	rec, ok := m.failures[ft]
	if !ok {
		rec = &FailureRecord{
			Type:        ft,
			Severity:    failureSeverity[ft],
			Strategy:    failureStrategy[ft],
			FirstSeenAt: m.now(),
		}
		m.failures[ft] = rec
	}
	rec.Count++
	rec.LastSeenAt = m.now()
	rec.Resolved = false
	rec.ResolvedAt = time.Time{}
	level := m.recomputeLocked()
	m.mu.Unlock()

	if ft == FailureStorageExhausted && m.pruner != nil {
		// Free space before any new segment is created.
		if n, err := m.pruner.PruneOldest(1); err != nil {
			m.log.Warn("pruning segments after storage exhaustion", zap.Error(err))
		} else if n > 0 {
			m.log.Info("freed log storage", zap.Int("segments_pruned", n))
		}
	}

	return level
}

// ReportRecovery resolves the failure records tied to a dependency
// after a successful probe or call, and recomputes the level.
// Resolution never happens by timeout alone.
func (m *Manager) ReportRecovery(dep string) DegradationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ft := range depFailureTypes[dep] {
		if rec, ok := m.failures[ft]; ok && !rec.Resolved {
			rec.Resolved = true
			rec.ResolvedAt = m.now()
			m.log.Info("failure resolved",
				zap.String("type", string(ft)),
				zap.String("dependency", dep))
		}
	}
	return m.recomputeLocked()
}

// Level returns the current degradation level.
func (m *Manager) Level() DegradationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Failures returns a snapshot of all retained failure records.
func (m *Manager) Failures() []FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailureRecord, 0, len(m.failures))
	for _, rec := range m.failures {
		out = append(out, *rec)
	}
	return out
}

// Snapshots returns the state of all known breakers.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, br := range m.breakers {
		out = append(out, br.Snapshot())
	}
	return out
}

// recomputeLocked prunes expired resolved records and derives the
// level as the maximum severity among unresolved failures. Two or
// more distinct unresolved failures at minimal weight escalate to
// emergency. Must be called with the lock held.
func (m *Manager) recomputeLocked() DegradationLevel {
	retention := m.cfg.RetentionWindow.Duration()
	if retention <= 0 {
		retention = time.Hour
	}
	now := m.now()

	level := DegradationNone
	severe := 0
	for ft, rec := range m.failures {
		if rec.Resolved {
			if now.Sub(rec.ResolvedAt) > retention {
				delete(m.failures, ft)
			}
			continue
		}
		if rec.Severity > level {
			level = rec.Severity
		}
		if rec.Severity >= DegradationMinimal {
			severe++
		}
	}
	if severe >= 2 {
		level = DegradationEmergency
	}

	if level != m.level {
		m.log.Warn("degradation level changed",
			zap.String("from", m.level.String()),
			zap.String("to", level.String()))
	}
	m.level = level
	metrics.DegradationLevel.Set(float64(level))
	return level
}
