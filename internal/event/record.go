// Package event defines the structured record model shared by the
// logging pipeline, the resilience manager, and the on-disk segment
// format.
package event

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// eventNameRe enforces the dot-delimited domain.action taxonomy, with
// an optional third qualifier segment.
var eventNameRe = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+(\.[a-z0-9_]+)?$`)

// ErrInvalidEventName is returned when a record's event name does not
// match the taxonomy.
var ErrInvalidEventName = errors.New("invalid event name")

// ErrorInfo carries structured error detail attached to a record.
type ErrorInfo struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Stack   []string `json:"stack,omitempty"`
	Class   string   `json:"class,omitempty"`
}

// Source identifies the emitting process.
type Source struct {
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment,omitempty"`
	Host        string `json:"host,omitempty"`
}

// Record is one structured event. Timestamp is set exactly once, at
// creation, and never mutated afterward.
type Record struct {
	Timestamp     time.Time          `json:"ts"`
	Severity      Severity           `json:"severity"`
	Event         string             `json:"event"`
	Message       string             `json:"msg,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Context       map[string]any     `json:"context,omitempty"`
	Err           *ErrorInfo         `json:"error,omitempty"`
	Perf          map[string]float64 `json:"perf,omitempty"`
	Source        *Source            `json:"source,omitempty"`
}

// Normalize fills required fields that the caller left unset: the
// timestamp (only if zero), a generated correlation ID, and the source
// metadata. It is safe to call more than once; a populated field is
// never overwritten.
func (r *Record) Normalize(src *Source) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	if r.Source == nil && src != nil {
		clone := *src
		r.Source = &clone
	}
}

// Validate checks the record against the event taxonomy.
func (r *Record) Validate() error {
	if r.Event == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEventName)
	}
	if !eventNameRe.MatchString(r.Event) {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, r.Event)
	}
	return nil
}

// Clone returns a deep copy of the record. Context and Perf maps are
// copied one level deep; nested context values are copied by the
// redactor when it rewrites them.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Context != nil {
		clone.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			clone.Context[k] = v
		}
	}
	if r.Perf != nil {
		clone.Perf = make(map[string]float64, len(r.Perf))
		for k, v := range r.Perf {
			clone.Perf[k] = v
		}
	}
	if r.Err != nil {
		errClone := *r.Err
		if r.Err.Stack != nil {
			errClone.Stack = append([]string(nil), r.Err.Stack...)
		}
		clone.Err = &errClone
	}
	if r.Source != nil {
		srcClone := *r.Source
		clone.Source = &srcClone
	}
	return &clone
}
