// Package rotate manages the on-disk log segment lifecycle: a single
// active NDJSON segment that is sealed by size or age, plus retention
// pruning of sealed segments.
//
// Layout inside the configured directory:
//
//	<prefix>.ndjson                          active segment
//	<prefix>-20060102T150405.000.ndjson      sealed segments
//
// Rotation decisions happen on a periodic check, not on every write,
// to bound overhead. Retention never deletes or truncates the active
// segment.
package rotate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
)

// sealTimeFormat is embedded in sealed segment names. Lexical order
// equals chronological order.
const sealTimeFormat = "20060102T150405.000"

// ErrStorageExhausted wraps ENOSPC and quota failures so the
// resilience manager can classify them.
var ErrStorageExhausted = errors.New("log storage exhausted")

// Rotator owns the active segment and its sealed siblings.
// Safe for concurrent use.
type Rotator struct {
	mu         sync.Mutex
	dir        string
	prefix     string
	maxBytes   int64
	maxAge     time.Duration
	maxKeep    int
	log        *zap.Logger
	active     *os.File
	activeSize int64
	openedAt   time.Time
	now        func() time.Time
}

// New opens (or creates) the active segment inside dir.
func New(cfg config.RotationConfig, log *zap.Logger) (*Rotator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rotator{
		dir:      cfg.Dir,
		prefix:   cfg.FilePrefix,
		maxBytes: cfg.MaxSegmentBytes,
		maxAge:   cfg.MaxSegmentAge.Duration(),
		maxKeep:  cfg.MaxSegments,
		log:      log,
		now:      time.Now,
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.openActive(); err != nil {
		return nil, err
	}
	return r, nil
}

// ActivePath returns the path of the active segment.
func (r *Rotator) ActivePath() string {
	return filepath.Join(r.dir, r.prefix+".ndjson")
}

// openActive opens the active segment for appending. Must be called
// with the lock held (or before the rotator is shared).
func (r *Rotator) openActive() error {
	f, err := os.OpenFile(r.ActivePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open active segment: %w", wrapStorageErr(err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat active segment: %w", err)
	}
	r.active = f
	r.activeSize = info.Size()
	r.openedAt = r.now()
	return nil
}

// Append writes data to the active segment in a single write call.
func (r *Rotator) Append(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		if err := r.openActive(); err != nil {
			return err
		}
	}
	n, err := r.active.Write(data)
	r.activeSize += int64(n)
	if err != nil {
		return fmt.Errorf("append segment: %w", wrapStorageErr(err))
	}
	return nil
}

// WriteBatch implements buffer.Sink: the whole batch is encoded and
// appended in one write so an I/O failure never leaves a partial batch
// in the newline-delimited stream. Records that cannot be encoded are
// dropped and counted; an encode failure is deterministic, so failing
// the batch would wedge the stream on one bad record forever.
func (r *Rotator) WriteBatch(ctx context.Context, batch []*event.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var data []byte
	for _, rec := range batch {
		line, err := event.EncodeLine(rec)
		if err != nil {
			r.log.Warn("dropping unencodable record",
				zap.String("event", rec.Event),
				zap.Error(err))
			metrics.EventsDropped.WithLabelValues("encode").Inc()
			continue
		}
		data = append(data, line...)
	}
	if len(data) == 0 {
		return nil
	}
	return r.Append(data)
}

// CheckRotate seals the active segment if it exceeds the configured
// size or age, then opens a fresh one. Returns the sealed path, or ""
// when no rotation happened.
func (r *Rotator) CheckRotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", nil
	}
	oversize := r.maxBytes > 0 && r.activeSize >= r.maxBytes
	overage := r.maxAge > 0 && r.now().Sub(r.openedAt) >= r.maxAge
	if !oversize && !overage {
		return "", nil
	}
	if r.activeSize == 0 {
		// Nothing to seal; just refresh the age window.
		r.openedAt = r.now()
		return "", nil
	}
	return r.sealLocked()
}

// sealLocked renames the active segment to its timestamped name and
// opens a fresh active segment. Must be called with the lock held.
func (r *Rotator) sealLocked() (string, error) {
	sealed := filepath.Join(r.dir, fmt.Sprintf("%s-%s.ndjson", r.prefix, r.now().UTC().Format(sealTimeFormat)))
	if err := r.active.Close(); err != nil {
		r.log.Warn("closing active segment", zap.Error(err))
	}
	r.active = nil
	if err := os.Rename(r.ActivePath(), sealed); err != nil {
		// Reopen so appends keep working even if the rename failed.
		if openErr := r.openActive(); openErr != nil {
			return "", errors.Join(err, openErr)
		}
		return "", fmt.Errorf("seal segment: %w", err)
	}
	if err := r.openActive(); err != nil {
		return sealed, err
	}
	r.log.Info("sealed log segment", zap.String("path", sealed))
	return sealed, nil
}

// SealedSegments lists sealed segment paths, oldest first.
func (r *Rotator) SealedSegments() ([]string, error) {
	pattern := filepath.Join(r.dir, r.prefix+"-*.ndjson")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	// Embedded timestamps sort lexically.
	sort.Strings(matches)
	return matches, nil
}

// Prune deletes the oldest sealed segments beyond the retention
// count. The active segment is never a candidate.
func (r *Rotator) Prune() (int, error) {
	sealed, err := r.SealedSegments()
	if err != nil {
		return 0, err
	}
	excess := len(sealed) - r.maxKeep
	if excess <= 0 {
		return 0, nil
	}
	return r.remove(sealed[:excess])
}

// PruneOldest deletes up to n of the oldest sealed segments,
// regardless of the retention count. Used to free space after a
// storage-exhausted failure.
func (r *Rotator) PruneOldest(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	sealed, err := r.SealedSegments()
	if err != nil {
		return 0, err
	}
	if n > len(sealed) {
		n = len(sealed)
	}
	return r.remove(sealed[:n])
}

func (r *Rotator) remove(paths []string) (int, error) {
	removed := 0
	for _, p := range paths {
		if !strings.HasPrefix(filepath.Base(p), r.prefix+"-") {
			continue
		}
		if err := os.Remove(p); err != nil {
			return removed, fmt.Errorf("prune segment %s: %w", p, err)
		}
		r.log.Info("pruned log segment", zap.String("path", p))
		removed++
	}
	return removed, nil
}

// Close closes the active segment handle.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	err := r.active.Close()
	r.active = nil
	return err
}

// wrapStorageErr tags disk-full conditions so classification can map
// them to storage-exhausted instead of a generic write failure.
func wrapStorageErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %w", ErrStorageExhausted, err)
	}
	return err
}
