// Package backend is the narrow client for the error-reporting
// service. The core consumes exactly three operations — capture an
// exception, capture a message, add a breadcrumb — and must keep
// functioning (degraded) when the backend is absent or down.
package backend

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/opsgate/internal/event"
)

// Breadcrumb is a trail entry attached to subsequent captures.
type Breadcrumb struct {
	Timestamp time.Time      `json:"ts"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message"`
	Level     event.Severity `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// Reporter is the full collaborator contract. Implementations must be
// safe for concurrent use.
type Reporter interface {
	// CaptureException reports an error with optional context.
	CaptureException(ctx context.Context, err error, contextMap map[string]any) error
	// CaptureMessage reports a standalone message at a severity.
	CaptureMessage(ctx context.Context, msg string, sev event.Severity) error
	// AddBreadcrumb records a trail entry locally; breadcrumbs are
	// attached to the next capture, never sent on their own.
	AddBreadcrumb(b Breadcrumb)
}

// NopReporter discards everything. Used when no backend endpoint is
// configured; the rest of the core runs unchanged.
type NopReporter struct{}

// NewNopReporter returns a reporter that drops all calls.
func NewNopReporter() *NopReporter { return &NopReporter{} }

func (*NopReporter) CaptureException(context.Context, error, map[string]any) error { return nil }

func (*NopReporter) CaptureMessage(context.Context, string, event.Severity) error { return nil }

func (*NopReporter) AddBreadcrumb(Breadcrumb) {}
