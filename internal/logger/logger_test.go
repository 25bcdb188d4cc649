package logger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsgate/internal/backend"
	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
	"github.com/fyrsmithlabs/opsgate/internal/resilience"
	"github.com/fyrsmithlabs/opsgate/internal/rotate"
)

// recordingReporter captures backend calls for assertions.
type recordingReporter struct {
	mu         sync.Mutex
	exceptions []string
	messages   []string
	crumbs     []backend.Breadcrumb
}

func (r *recordingReporter) CaptureException(_ context.Context, err error, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions = append(r.exceptions, err.Error())
	return nil
}

func (r *recordingReporter) CaptureMessage(_ context.Context, msg string, _ event.Severity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingReporter) AddBreadcrumb(b backend.Breadcrumb) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crumbs = append(r.crumbs, b)
}

// testConfig keeps everything deterministic: no sampling drops, trace
// floor, small buffer.
func testConfig(t *testing.T, capacity int) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Log.MinLevel = "trace"
	cfg.Log.BufferCapacity = capacity
	cfg.Log.Sampling = map[string]float64{
		"trace": 1.0, "debug": 1.0, "info": 1.0, "warn": 1.0, "error": 1.0, "fatal": 1.0,
	}
	cfg.Rotation.Dir = t.TempDir()
	return cfg
}

func testRotator(t *testing.T, cfg *config.Config) *rotate.Rotator {
	t.Helper()
	rot, err := rotate.New(cfg.Rotation, zap.NewNop())
	require.NoError(t, err)
	return rot
}

func readActiveRecords(t *testing.T, rot *rotate.Rotator) []*event.Record {
	t.Helper()
	data, err := os.ReadFile(rot.ActivePath())
	require.NoError(t, err)
	var recs []*event.Record
	start := 0
	for i, b := range data {
		if b == '\n' {
			rec, err := event.DecodeLine(data[start : i+1])
			require.NoError(t, err)
			recs = append(recs, rec)
			start = i + 1
		}
	}
	return recs
}

func TestLogger_LogAndFlush(t *testing.T) {
	cfg := testConfig(t, 100)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Info("app.start", "starting", map[string]any{"version": "1.2.3"})
	l.Info("app.ready", "ready", nil)
	assert.Equal(t, 2, l.Pending())

	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 0, l.Pending())

	recs := readActiveRecords(t, rot)
	require.Len(t, recs, 2)
	assert.Equal(t, "app.start", recs[0].Event)
	assert.Equal(t, "app.ready", recs[1].Event)
	assert.Equal(t, "test", recs[0].Source.Environment)
	assert.NotEmpty(t, recs[0].CorrelationID, "normalization fills the correlation id")
}

func TestLogger_MinLevelFilter(t *testing.T) {
	cfg := testConfig(t, 100)
	cfg.Log.MinLevel = "warn"
	l, err := New(cfg, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Debug("app.detail", "dropped", nil)
	l.Info("app.detail", "dropped", nil)
	l.Warn("app.detail", "kept", nil)
	assert.Equal(t, 1, l.Pending())
}

func TestLogger_MinLevelDropsCountedAsLevel(t *testing.T) {
	cfg := testConfig(t, 100)
	cfg.Log.MinLevel = "warn"
	l, err := New(cfg, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	levelBefore := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("level"))
	degradedBefore := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("degraded"))

	l.Info("app.detail", "below threshold", nil)

	assert.Equal(t, levelBefore+1, testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("level")))
	assert.Equal(t, degradedBefore, testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("degraded")),
		"a static threshold drop is not a degradation drop")
}

func TestLogger_UnencodableRecordDoesNotBlockFlush(t *testing.T) {
	cfg := testConfig(t, 100)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Info("app.bad", "unmarshalable payload", map[string]any{"ch": make(chan int)})
	l.Info("app.good", "fine", nil)
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 0, l.Pending(), "the bad record must not pin the batch in the buffer")

	// Later flushes keep working; the stream is not wedged.
	l.Info("app.later", "still fine", nil)
	require.NoError(t, l.Flush(context.Background()))

	recs := readActiveRecords(t, rot)
	require.Len(t, recs, 2)
	assert.Equal(t, "app.good", recs[0].Event)
	assert.Equal(t, "app.later", recs[1].Event)
}

func TestLogger_SamplingDropsBeforeBuffering(t *testing.T) {
	cfg := testConfig(t, 100)
	cfg.Log.Sampling["info"] = 0.0
	l, err := New(cfg, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	for i := 0; i < 50; i++ {
		l.Info("app.chatty", "dropped", nil)
	}
	l.Warn("app.detail", "kept", nil)
	assert.Equal(t, 1, l.Pending())
}

func TestLogger_InvalidRecordDropped(t *testing.T) {
	cfg := testConfig(t, 100)
	l, err := New(cfg, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Log(&event.Record{Severity: event.SeverityInfo, Event: "NOT A VALID NAME"})
	l.Log(nil)
	assert.Equal(t, 0, l.Pending())
}

func TestLogger_RedactsBeforeBuffering(t *testing.T) {
	cfg := testConfig(t, 100)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Info("auth.login", "login", map[string]any{"password": "hunter2", "user": "alice"})
	require.NoError(t, l.Flush(context.Background()))

	recs := readActiveRecords(t, rot)
	require.Len(t, recs, 1)
	assert.Equal(t, "[REDACTED]", recs[0].Context["password"])
	assert.Equal(t, "alice", recs[0].Context["user"])
}

func TestLogger_OverflowForcesFlush(t *testing.T) {
	cfg := testConfig(t, 3)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	for i := 0; i < 3; i++ {
		l.Info("app.fill", "fill", nil)
	}
	assert.Equal(t, 3, l.Pending())

	// The fourth record triggers a synchronous flush of the three
	// buffered ones before it is admitted.
	l.Info("app.fill", "overflow", nil)
	assert.Equal(t, 1, l.Pending())

	recs := readActiveRecords(t, rot)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, "fill", rec.Message)
	}
}

func TestLogger_OverflowFlushesExactlyOnce(t *testing.T) {
	cfg := testConfig(t, 100)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	for i := 0; i < 150; i++ {
		l.Info("app.burst", "burst", nil)
	}

	// The 101st record forced a single flush of the first hundred;
	// the remaining fifty are still pending.
	assert.Equal(t, 50, l.Pending())
	assert.Len(t, readActiveRecords(t, rot), 100)
}

func TestLogger_ErrorForwardsToBackend(t *testing.T) {
	cfg := testConfig(t, 100)
	rep := &recordingReporter{}
	l, err := New(cfg, nil, rep, nil, zap.NewNop())
	require.NoError(t, err)

	l.Error("db.query", "query failed", errors.New("connection reset"), nil)
	l.Log(&event.Record{Severity: event.SeverityError, Event: "app.oops", Message: "plain error"})

	// Close waits for in-flight forwards.
	require.NoError(t, l.Close(context.Background()))

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, []string{"connection reset"}, rep.exceptions)
	assert.Equal(t, []string{"plain error"}, rep.messages)
}

func TestLogger_LowSeverityBecomesBreadcrumb(t *testing.T) {
	cfg := testConfig(t, 100)
	rep := &recordingReporter{}
	l, err := New(cfg, nil, rep, nil, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	l.Info("http.request", "GET /v1/users", nil)
	l.Warn("http.slow", "slow response", nil)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.Len(t, rep.crumbs, 2)
	assert.Equal(t, "http.request", rep.crumbs[0].Category)
	assert.Empty(t, rep.exceptions)
	assert.Empty(t, rep.messages)
}

func TestLogger_DegradationGating(t *testing.T) {
	cfg := testConfig(t, 100)
	res := resilience.NewManager(cfg.Resilience, nil)
	l, err := New(cfg, nil, nil, res, zap.NewNop())
	require.NoError(t, err)
	defer l.Close(context.Background())

	// Minimal keeps warn and above.
	res.ReportFailure(resilience.FailureBackendUnavailable)
	require.Equal(t, resilience.DegradationMinimal, res.Level())
	l.Info("app.detail", "dropped", nil)
	l.Warn("app.detail", "kept", nil)
	assert.Equal(t, 1, l.Pending())

	// Emergency keeps error and above.
	res.ReportFailure(resilience.FailureStorageExhausted)
	require.Equal(t, resilience.DegradationEmergency, res.Level())
	l.Warn("app.detail", "dropped", nil)
	l.Log(&event.Record{Severity: event.SeverityError, Event: "app.oops", Message: "kept"})
	assert.Equal(t, 2, l.Pending())
}

func TestLogger_CloseFlushesAndRejectsFurtherFlushes(t *testing.T) {
	cfg := testConfig(t, 100)
	rot := testRotator(t, cfg)
	l, err := New(cfg, rot, nil, nil, zap.NewNop())
	require.NoError(t, err)
	l.Start()

	l.Info("app.stop", "shutting down", nil)
	require.NoError(t, l.Close(context.Background()))

	recs := readActiveRecords(t, rot)
	require.Len(t, recs, 1)
	assert.Equal(t, "app.stop", recs[0].Event)

	assert.ErrorIs(t, l.Flush(context.Background()), ErrClosed)
	assert.NoError(t, l.Close(context.Background()), "double close is a no-op")
}

func TestLogger_BackendFailureNeverReachesCaller(t *testing.T) {
	cfg := testConfig(t, 100)
	cfg.Resilience.InitialBackoff = config.Duration(time.Millisecond)
	cfg.Resilience.MaxBackoff = config.Duration(10 * time.Millisecond)
	res := resilience.NewManager(cfg.Resilience, nil)
	rep := backend.NewHTTPReporter(config.BackendConfig{Endpoint: "http://127.0.0.1:1"}, "test", nil)
	l, err := New(cfg, nil, rep, res, zap.NewNop())
	require.NoError(t, err)

	// Forwarding fails asynchronously; Log itself never surfaces it
	// and the record stays buffered locally.
	l.Log(&event.Record{Severity: event.SeverityError, Event: "app.oops", Message: "boom"})
	assert.Equal(t, 1, l.Pending())
	require.NoError(t, l.Close(context.Background()))
}
