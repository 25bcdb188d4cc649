package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/resilience"
)

func configuredConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Environment = "staging"
	cfg.Backend.Endpoint = "https://errors.example.com"
	cfg.Log.MinLevel = "info"
	return cfg
}

func TestEnvCheck(t *testing.T) {
	c := NewEnvCheck(configuredConfig())
	res := c.Run(context.Background())
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.Score)

	missing := config.NewDefaultConfig()
	res = NewEnvCheck(missing).Run(context.Background())
	assert.False(t, res.Passed)
	assert.True(t, res.CriticalFailure)
	assert.Contains(t, res.Details, "OPSGATE_ENVIRONMENT")
	assert.Contains(t, res.Details, "and 2 more")

	bad := configuredConfig()
	bad.Log.MinLevel = "loud"
	res = NewEnvCheck(bad).Run(context.Background())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Details, "OPSGATE_LOG_MIN_LEVEL")
}

func TestStorageCheck(t *testing.T) {
	res := NewStorageCheck(t.TempDir()).Run(context.Background())
	assert.True(t, res.Passed)

	// A path under a regular file can never become a directory.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o640))
	res = NewStorageCheck(filepath.Join(file, "logs")).Run(context.Background())
	assert.False(t, res.Passed)
	assert.True(t, res.CriticalFailure)
	assert.NotEmpty(t, res.Remediation)
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(context.Context) error { return p.err }

func TestBackendCheck(t *testing.T) {
	res := NewBackendCheck(&stubPinger{}).Run(context.Background())
	assert.True(t, res.Passed)

	res = NewBackendCheck(&stubPinger{err: errors.New("connection refused")}).Run(context.Background())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Details, "connection refused")

	res = NewBackendCheck(nil).Run(context.Background())
	assert.False(t, res.Passed, "an unconfigured backend is a failing P1")
	assert.Equal(t, P1, res.Priority)
}

func TestDegradationCheck(t *testing.T) {
	m := resilience.NewManager(config.NewDefaultConfig().Resilience, nil)
	c := NewDegradationCheck(m)

	res := c.Run(context.Background())
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.Score)

	m.ReportFailure(resilience.FailureWriteFailure)
	res = c.Run(context.Background())
	assert.False(t, res.Passed)
	assert.Equal(t, 70, res.Score)

	m.ReportFailure(resilience.FailureBackendUnavailable)
	res = c.Run(context.Background())
	assert.Equal(t, 40, res.Score)

	m.ReportFailure(resilience.FailureStorageExhausted)
	res = c.Run(context.Background())
	assert.Equal(t, 0, res.Score)
	assert.Contains(t, res.Details, "emergency")
}

type stubStats struct{ pending int }

func (s *stubStats) Pending() int { return s.pending }

func TestBufferCheck(t *testing.T) {
	res := NewBufferCheck(&stubStats{pending: 10}, 100).Run(context.Background())
	assert.True(t, res.Passed)

	res = NewBufferCheck(&stubStats{pending: 95}, 100).Run(context.Background())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Details, "95/100")

	res = NewBufferCheck(nil, 0).Run(context.Background())
	assert.True(t, res.Passed, "no live logger is not a failure")
}

type stubLister struct {
	segments []string
	err      error
}

func (s *stubLister) SealedSegments() ([]string, error) { return s.segments, s.err }

func TestRetentionCheck(t *testing.T) {
	res := NewRetentionCheck(&stubLister{segments: []string{"a", "b"}}, 10).Run(context.Background())
	assert.True(t, res.Passed)

	res = NewRetentionCheck(&stubLister{segments: []string{"a", "b", "c"}}, 2).Run(context.Background())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Details, "exceed retention limit")

	res = NewRetentionCheck(&stubLister{err: errors.New("permission denied")}, 2).Run(context.Background())
	assert.False(t, res.Passed)

	res = NewRetentionCheck(nil, 2).Run(context.Background())
	assert.True(t, res.Passed)
}
