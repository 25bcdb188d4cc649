package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
)

// Sentinel errors used by failure classification.
var (
	// ErrUnavailable marks a backend that answered but cannot serve
	// (5xx, auth failure).
	ErrUnavailable = errors.New("error-reporting backend unavailable")
	// ErrRateLimited marks captures dropped by the local rate cap.
	ErrRateLimited = errors.New("capture dropped by local rate limit")
)

// capturePayload is the wire format for both capture operations.
type capturePayload struct {
	Kind        string         `json:"kind"`
	Message     string         `json:"message"`
	Severity    event.Severity `json:"severity"`
	ErrorType   string         `json:"error_type,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Breadcrumbs []Breadcrumb   `json:"breadcrumbs,omitempty"`
	Timestamp   time.Time      `json:"ts"`
}

// HTTPReporter posts captures to the backend over JSON/HTTP. Every
// request carries a fixed timeout; a timeout or connection error is a
// network failure, a 5xx answer means the backend itself is
// unavailable. A local token-bucket rate cap bounds capture volume;
// over-limit captures are dropped and counted, never queued.
type HTTPReporter struct {
	endpoint    string
	token       config.Secret
	environment string
	client      *http.Client
	limiter     *rate.Limiter
	log         *zap.Logger

	mu        sync.Mutex
	crumbs    []Breadcrumb
	maxCrumbs int
	dropped   int64
}

// NewHTTPReporter builds a reporter from the backend config section.
func NewHTTPReporter(cfg config.BackendConfig, environment string, log *zap.Logger) *HTTPReporter {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	maxCrumbs := cfg.MaxBreadcrumbs
	if maxCrumbs <= 0 {
		maxCrumbs = 100
	}
	return &HTTPReporter{
		endpoint:    cfg.Endpoint,
		token:       cfg.Token,
		environment: environment,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
		log:         log,
		maxCrumbs:   maxCrumbs,
	}
}

// CaptureException implements Reporter.
func (r *HTTPReporter) CaptureException(ctx context.Context, err error, contextMap map[string]any) error {
	if err == nil {
		return nil
	}
	return r.capture(ctx, capturePayload{
		Kind:      "exception",
		Message:   err.Error(),
		Severity:  event.SeverityError,
		ErrorType: fmt.Sprintf("%T", err),
		Context:   contextMap,
	})
}

// CaptureMessage implements Reporter.
func (r *HTTPReporter) CaptureMessage(ctx context.Context, msg string, sev event.Severity) error {
	return r.capture(ctx, capturePayload{
		Kind:     "message",
		Message:  msg,
		Severity: sev,
	})
}

// AddBreadcrumb implements Reporter. Breadcrumbs are kept in a
// bounded local ring and attached to the next capture.
func (r *HTTPReporter) AddBreadcrumb(b Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crumbs = append(r.crumbs, b)
	if len(r.crumbs) > r.maxCrumbs {
		r.crumbs = r.crumbs[len(r.crumbs)-r.maxCrumbs:]
	}
}

// Ping probes backend reachability with a HEAD request. Used by the
// gate's backend check, not part of the core Reporter contract.
func (r *HTTPReporter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.endpoint, nil)
	if err != nil {
		return err
	}
	r.authorize(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: ping returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Dropped returns the number of captures dropped by the rate cap.
func (r *HTTPReporter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *HTTPReporter) capture(ctx context.Context, p capturePayload) error {
	if !r.limiter.Allow() {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return ErrRateLimited
	}

	p.Timestamp = time.Now()
	p.Environment = r.environment
	r.mu.Lock()
	p.Breadcrumbs = append([]Breadcrumb(nil), r.crumbs...)
	sent := len(p.Breadcrumbs)
	r.mu.Unlock()

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}

	url := r.endpoint + "/capture"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		// Timeout or connection failure; classified as network-error.
		return fmt.Errorf("capture request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: capture returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: capture rejected with %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("capture rejected with %d", resp.StatusCode)
	}

	// A delivered capture consumes only the snapshot it carried.
	// Crumbs added while the request was in flight stay queued for
	// the next capture.
	r.mu.Lock()
	if sent < len(r.crumbs) {
		r.crumbs = append(r.crumbs[:0], r.crumbs[sent:]...)
	} else {
		r.crumbs = r.crumbs[:0]
	}
	r.mu.Unlock()
	return nil
}

func (r *HTTPReporter) authorize(req *http.Request) {
	if r.token.IsSet() {
		req.Header.Set("Authorization", "Bearer "+r.token.Value())
	}
}
