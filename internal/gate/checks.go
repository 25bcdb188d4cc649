package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
	"github.com/fyrsmithlabs/opsgate/internal/resilience"
)

// EnvCheck validates the required environment-derived settings.
// Missing required variables are a P0 gate failure, never a silent
// default.
type EnvCheck struct {
	cfg *config.Config
}

func NewEnvCheck(cfg *config.Config) *EnvCheck { return &EnvCheck{cfg: cfg} }

func (*EnvCheck) ID() string         { return "config.env_required" }
func (*EnvCheck) Priority() Priority { return P0 }
func (*EnvCheck) Slow() bool         { return false }

func (c *EnvCheck) Run(context.Context) Result {
	issues := c.cfg.RequiredIssues()
	if c.cfg.Log.MinLevel != "" {
		if _, err := event.ParseSeverity(c.cfg.Log.MinLevel); err != nil {
			issues = append(issues, fmt.Sprintf("OPSGATE_LOG_MIN_LEVEL is invalid: %v", err))
		}
	}
	if len(issues) > 0 {
		details := issues[0]
		if len(issues) > 1 {
			details = fmt.Sprintf("%s (and %d more)", issues[0], len(issues)-1)
		}
		return fail(c.ID(), P0, 0, details,
			"set the required OPSGATE_* variables for this environment")
	}
	return pass(c.ID(), P0, fmt.Sprintf("environment %q fully configured", c.cfg.Environment))
}

// StorageCheck probes that the log directory exists and is writable.
type StorageCheck struct {
	dir string
}

func NewStorageCheck(dir string) *StorageCheck { return &StorageCheck{dir: dir} }

func (*StorageCheck) ID() string         { return "storage.writable" }
func (*StorageCheck) Priority() Priority { return P0 }
func (*StorageCheck) Slow() bool         { return false }

func (c *StorageCheck) Run(context.Context) Result {
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fail(c.ID(), P0, 0,
			fmt.Sprintf("log directory %s cannot be created: %v", c.dir, err),
			"fix permissions or point rotation.dir at a writable location")
	}
	probe := filepath.Join(c.dir, ".opsgate-probe")
	if err := os.WriteFile(probe, []byte("probe\n"), 0o640); err != nil {
		return fail(c.ID(), P0, 0,
			fmt.Sprintf("log directory %s is not writable: %v", c.dir, err),
			"fix permissions or free disk space")
	}
	_ = os.Remove(probe)
	return pass(c.ID(), P0, fmt.Sprintf("log directory %s is writable", c.dir))
}

// Pinger probes backend reachability. Implemented by
// backend.HTTPReporter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendCheck probes the error-reporting backend. Marked slow; it
// performs a network round trip.
type BackendCheck struct {
	pinger Pinger
}

func NewBackendCheck(p Pinger) *BackendCheck { return &BackendCheck{pinger: p} }

func (*BackendCheck) ID() string         { return "backend.reachable" }
func (*BackendCheck) Priority() Priority { return P1 }
func (*BackendCheck) Slow() bool         { return true }

func (c *BackendCheck) Run(ctx context.Context) Result {
	if c.pinger == nil {
		return fail(c.ID(), P1, 0, "no error-reporting backend configured",
			"set OPSGATE_BACKEND_ENDPOINT to enable error reporting")
	}
	if err := c.pinger.Ping(ctx); err != nil {
		return fail(c.ID(), P1, 0, fmt.Sprintf("backend unreachable: %v", err),
			"verify the endpoint, credentials and network path to the backend")
	}
	return pass(c.ID(), P1, "backend answered the reachability probe")
}

// DegradationCheck reads the resilience manager's current level.
type DegradationCheck struct {
	manager *resilience.Manager
}

func NewDegradationCheck(m *resilience.Manager) *DegradationCheck {
	return &DegradationCheck{manager: m}
}

func (*DegradationCheck) ID() string         { return "resilience.degradation" }
func (*DegradationCheck) Priority() Priority { return P1 }
func (*DegradationCheck) Slow() bool         { return false }

func (c *DegradationCheck) Run(context.Context) Result {
	level := c.manager.Level()
	switch level {
	case resilience.DegradationNone:
		return pass(c.ID(), P1, "no unresolved telemetry failures")
	case resilience.DegradationReduced:
		return fail(c.ID(), P1, 70, "system degraded: reduced",
			"check unresolved write/network failures before releasing")
	case resilience.DegradationMinimal:
		return fail(c.ID(), P1, 40, "system degraded: minimal",
			"telemetry backends are failing; investigate before releasing")
	default:
		return fail(c.ID(), P1, 0, "system degraded: emergency",
			"multiple telemetry dependencies are down; do not release")
	}
}

// BufferStats exposes logger queue occupancy. Implemented by
// logger.Logger.
type BufferStats interface {
	Pending() int
}

// BufferCheck reports remaining headroom in the event buffer.
type BufferCheck struct {
	stats    BufferStats
	capacity int
}

func NewBufferCheck(stats BufferStats, capacity int) *BufferCheck {
	return &BufferCheck{stats: stats, capacity: capacity}
}

func (*BufferCheck) ID() string         { return "buffer.headroom" }
func (*BufferCheck) Priority() Priority { return P2 }
func (*BufferCheck) Slow() bool         { return false }

func (c *BufferCheck) Run(context.Context) Result {
	if c.stats == nil || c.capacity <= 0 {
		return pass(c.ID(), P2, "no live logger attached")
	}
	pending := c.stats.Pending()
	used := float64(pending) / float64(c.capacity)
	if used >= 0.9 {
		return fail(c.ID(), P2, int((1-used)*100),
			fmt.Sprintf("buffer nearly full: %d/%d records pending", pending, c.capacity),
			"check flush failures; the sink may be falling behind")
	}
	return pass(c.ID(), P2, fmt.Sprintf("%d/%d records pending", pending, c.capacity))
}

// SegmentLister exposes sealed segment inventory. Implemented by
// rotate.Rotator.
type SegmentLister interface {
	SealedSegments() ([]string, error)
}

// RetentionCheck reports sealed segment inventory against the
// retention limit.
type RetentionCheck struct {
	lister SegmentLister
	max    int
}

func NewRetentionCheck(l SegmentLister, maxSegments int) *RetentionCheck {
	return &RetentionCheck{lister: l, max: maxSegments}
}

func (*RetentionCheck) ID() string         { return "retention.segments" }
func (*RetentionCheck) Priority() Priority { return P2 }
func (*RetentionCheck) Slow() bool         { return false }

func (c *RetentionCheck) Run(context.Context) Result {
	if c.lister == nil {
		return pass(c.ID(), P2, "no rotator attached")
	}
	sealed, err := c.lister.SealedSegments()
	if err != nil {
		return fail(c.ID(), P2, 50, fmt.Sprintf("cannot list sealed segments: %v", err),
			"check log directory permissions")
	}
	if c.max > 0 && len(sealed) > c.max {
		return fail(c.ID(), P2, 60,
			fmt.Sprintf("%d sealed segments exceed retention limit %d", len(sealed), c.max),
			"retention pruning is not keeping up; check for prune errors")
	}
	return pass(c.ID(), P2, fmt.Sprintf("%d sealed segments retained", len(sealed)))
}
