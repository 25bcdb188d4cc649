// Package logger is the public structured logging API. Log composes
// the whole pipeline: normalize, sample, redact, buffer, and — for
// error and fatal records — forward to the error-reporting backend
// with an immediate flush.
//
// Log never blocks on network I/O and never returns an error to the
// caller; internal failures are classified and reported through the
// resilience manager instead of propagating to application code.
package logger

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsgate/internal/backend"
	"github.com/fyrsmithlabs/opsgate/internal/buffer"
	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
	"github.com/fyrsmithlabs/opsgate/internal/redact"
	"github.com/fyrsmithlabs/opsgate/internal/resilience"
	"github.com/fyrsmithlabs/opsgate/internal/rotate"
	"github.com/fyrsmithlabs/opsgate/internal/sampling"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("logger closed")

// Logger is the structured logging front end. Construct with New,
// start the schedulers with Start, and stop with Close. There is no
// package-level instance; callers own their Logger and pass it where
// needed.
type Logger struct {
	cfg      config.LogConfig
	rotEvery time.Duration
	diag     *zap.Logger
	policy   *sampling.Policy
	redactor *redact.Redactor
	buf      *buffer.Buffer
	rotator  *rotate.Rotator
	reporter backend.Reporter
	res      *resilience.Manager
	source   event.Source
	minLevel event.Severity

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New wires the pipeline from the full configuration. The zap logger
// carries the core's own diagnostics only; pass zap.NewNop() to
// silence them.
func New(cfg *config.Config, rot *rotate.Rotator, rep backend.Reporter, res *resilience.Manager, diag *zap.Logger) (*Logger, error) {
	if diag == nil {
		diag = zap.NewNop()
	}
	if rep == nil {
		rep = backend.NewNopReporter()
	}

	policy, err := sampling.NewPolicy(cfg.Log.Sampling)
	if err != nil {
		return nil, err
	}
	redactor, err := redact.New(cfg.Log.Redaction)
	if err != nil {
		return nil, err
	}

	minLevel := event.SeverityTrace
	if cfg.Log.MinLevel != "" {
		minLevel, err = event.ParseSeverity(cfg.Log.MinLevel)
		if err != nil {
			return nil, err
		}
	}

	host, _ := os.Hostname()
	return &Logger{
		cfg:      cfg.Log,
		rotEvery: cfg.Rotation.CheckInterval.Duration(),
		diag:     diag,
		policy:   policy,
		redactor: redactor,
		buf:      buffer.New(cfg.Log.BufferCapacity),
		rotator:  rot,
		reporter: rep,
		res:      res,
		source: event.Source{
			Service:     cfg.Log.Service,
			Environment: cfg.Environment,
			Host:        host,
		},
		minLevel: minLevel,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Log queues a record and returns. It fills missing required fields,
// applies sampling first (a dropped record short-circuits with no
// side effects), redacts, and appends to the buffer. error and fatal
// records are additionally forwarded to the backend and trigger an
// immediate asynchronous flush.
func (l *Logger) Log(rec *event.Record) {
	if rec == nil {
		return
	}
	rec.Normalize(&l.source)
	if err := rec.Validate(); err != nil {
		l.diag.Warn("dropping invalid record", zap.Error(err))
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return
	}
	if rec.Severity < l.minLevel {
		metrics.EventsDropped.WithLabelValues("level").Inc()
		return
	}
	if l.degradedBelow(rec.Severity) {
		metrics.EventsDropped.WithLabelValues("degraded").Inc()
		return
	}

	// Sampling before everything else; error and fatal default to
	// rate 1.0 so they are always kept unless configured otherwise.
	if !l.policy.Sample(rec.Severity) {
		metrics.EventsDropped.WithLabelValues("sampled").Inc()
		return
	}

	rec = l.redactor.Redact(rec)

	if l.buf.AtCapacity() {
		// Flush synchronously so the buffer stays bounded before the
		// new record is admitted. A failed flush requeues the batch
		// and raises write-failure through the resilience manager.
		l.flushOnce("overflow")
	}
	l.buf.Append(rec)
	metrics.EventsTotal.WithLabelValues(rec.Severity.String()).Inc()

	if rec.Severity >= event.SeverityError {
		l.forward(rec)
		l.requestFlush()
	} else if l.reporter != nil {
		l.reporter.AddBreadcrumb(backend.Breadcrumb{
			Timestamp: rec.Timestamp,
			Category:  rec.Event,
			Message:   rec.Message,
			Level:     rec.Severity,
		})
	}
}

// degradedBelow drops low-severity records while the system is
// degraded: minimal keeps warn and above, emergency keeps error and
// above.
func (l *Logger) degradedBelow(sev event.Severity) bool {
	if l.res == nil {
		return false
	}
	switch l.res.Level() {
	case resilience.DegradationEmergency:
		return sev < event.SeverityError
	case resilience.DegradationMinimal:
		return sev < event.SeverityWarn
	default:
		return false
	}
}

// forward sends an error/fatal record to the backend through its
// circuit breaker, off the caller's goroutine.
func (l *Logger) forward(rec *event.Record) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout())
		defer cancel()

		op := func(ctx context.Context) error {
			if rec.Err != nil {
				return l.reporter.CaptureException(ctx, errors.New(rec.Err.Message), rec.Context)
			}
			return l.reporter.CaptureMessage(ctx, rec.Message, rec.Severity)
		}
		var err error
		if l.res != nil {
			err = l.res.Do(ctx, resilience.DepBackend, op)
		} else {
			err = op(ctx)
		}
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) && !errors.Is(err, backend.ErrRateLimited) {
			l.diag.Warn("forwarding record to backend", zap.Error(err))
		}
	}()
}

// Start launches the flush and rotation schedulers. The tasks are
// owned by the logger and cancelled deterministically by Close.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true

	l.wg.Add(1)
	go l.run()
}

func (l *Logger) run() {
	defer l.wg.Done()

	flushTicker := time.NewTicker(l.flushInterval())
	defer flushTicker.Stop()
	rotateTicker := time.NewTicker(l.rotateInterval())
	defer rotateTicker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-flushTicker.C:
			l.flushOnce("timer")
		case <-l.flushCh:
			l.flushOnce("severity")
		case <-rotateTicker.C:
			l.rotateOnce()
		}
	}
}

// flushOnce drains the buffer into the rotator under the storage
// breaker. Failures are classified and recorded; the batch is already
// requeued by the buffer on error.
func (l *Logger) flushOnce(trigger string) {
	if l.rotator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout())
	defer cancel()

	start := time.Now()
	var n int
	op := func(ctx context.Context) error {
		var err error
		n, err = l.buf.Flush(ctx, l.rotator)
		return err
	}
	var err error
	if l.res != nil {
		err = l.res.Do(ctx, resilience.DepStorage, op)
	} else {
		err = op(ctx)
	}
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.FlushTotal.WithLabelValues("error").Inc()
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			l.diag.Warn("buffer flush failed",
				zap.String("trigger", trigger),
				zap.Error(err))
		}
	case n == 0:
		metrics.FlushTotal.WithLabelValues("empty").Inc()
	default:
		metrics.FlushTotal.WithLabelValues("success").Inc()
		metrics.FlushedRecords.Add(float64(n))
	}
}

// rotateOnce runs the periodic rotation check and retention pass.
func (l *Logger) rotateOnce() {
	if l.rotator == nil {
		return
	}
	if _, err := l.rotator.CheckRotate(); err != nil {
		l.diag.Warn("rotation check failed", zap.Error(err))
		if l.res != nil {
			l.res.ReportFailure(l.res.Classify(err))
		}
	}
	if _, err := l.rotator.Prune(); err != nil {
		l.diag.Warn("retention prune failed", zap.Error(err))
	}
}

// requestFlush signals the scheduler without blocking; a pending
// signal is enough.
func (l *Logger) requestFlush() {
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// Flush synchronously drains the buffer. Exposed for tests and for
// hosts that need a barrier.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	_, err := l.buf.Flush(ctx, l.rotator)
	return err
}

// Pending returns the number of buffered records.
func (l *Logger) Pending() int {
	return l.buf.Len()
}

// Close cancels the schedulers first (so no timer can re-enter a
// flush), waits for in-flight forwards, then attempts one bounded
// final flush within the context deadline.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	l.mu.Unlock()

	if started {
		close(l.stopCh)
	}
	l.wg.Wait()

	deadline := l.shutdownTimeout()
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	var err error
	if l.rotator != nil {
		_, err = l.buf.Flush(flushCtx, l.rotator)
		if closeErr := l.rotator.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (l *Logger) flushInterval() time.Duration {
	if d := l.cfg.FlushInterval.Duration(); d > 0 {
		return d
	}
	return 5 * time.Second
}

func (l *Logger) rotateInterval() time.Duration {
	if l.rotEvery > 0 {
		return l.rotEvery
	}
	return 30 * time.Second
}

func (l *Logger) shutdownTimeout() time.Duration {
	if d := l.cfg.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 10 * time.Second
}
