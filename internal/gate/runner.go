package gate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/metrics"
)

var tracer = otel.Tracer("opsgate/gate")

// Runner executes the registered checks and aggregates a Summary.
type Runner struct {
	cfg    config.GateConfig
	log    *zap.Logger
	checks []Check
}

// NewRunner creates an empty runner.
func NewRunner(cfg config.GateConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log}
}

// Register adds checks to the registry. Not safe to call concurrently
// with RunAll.
func (r *Runner) Register(checks ...Check) {
	r.checks = append(r.checks, checks...)
}

// RunCheck executes a single check with the configured timeout and a
// panic boundary.
func (r *Runner) RunCheck(ctx context.Context, c Check) Result {
	timeout := r.cfg.CheckTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gate.check",
		trace.WithAttributes(
			attribute.String("check.id", c.ID()),
			attribute.String("check.priority", c.Priority().String()),
		))
	defer span.End()

	start := time.Now()
	res := r.safeRun(ctx, c)
	res.Duration = time.Since(start)

	result := "pass"
	switch {
	case res.Skipped:
		result = "skip"
	case !res.Passed:
		result = "fail"
	}
	metrics.GateChecks.WithLabelValues(c.ID(), result).Inc()
	span.SetAttributes(
		attribute.Bool("check.passed", res.Passed),
		attribute.Int("check.score", res.Score),
	)
	return res
}

// safeRun isolates a panicking check so it cannot abort its siblings.
func (r *Runner) safeRun(ctx context.Context, c Check) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("gate check panicked",
				zap.String("check", c.ID()),
				zap.Any("panic", p))
			res = fail(c.ID(), c.Priority(), 0,
				fmt.Sprintf("check panicked: %v", p),
				"inspect the check implementation; a panic is always a bug")
		}
	}()
	return c.Run(ctx)
}

// RunAll executes every registered check concurrently and aggregates
// the summary. Slow checks are skipped when configured, and skipped
// checks are scored neutrally: excluded from both the numerator and
// the denominator.
func (r *Runner) RunAll(ctx context.Context) Summary {
	ctx, span := tracer.Start(ctx, "gate.run")
	defer span.End()

	started := time.Now()
	results := make([]Result, len(r.checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.checks {
		if r.cfg.SkipSlow && c.Slow() {
			results[i] = Result{CheckID: c.ID(), Priority: c.Priority(), Skipped: true, Details: "skipped (slow check)"}
			metrics.GateChecks.WithLabelValues(c.ID(), "skip").Inc()
			continue
		}
		g.Go(func() error {
			results[i] = r.RunCheck(gctx, c)
			return nil
		})
	}
	// Checks never return errors through the group; failures live in
	// their results.
	_ = g.Wait()

	summary := r.summarize(results)
	summary.StartedAt = started
	summary.Duration = time.Since(started)

	metrics.GateScore.Set(summary.OverallScore)
	span.SetAttributes(
		attribute.Float64("gate.score", summary.OverallScore),
		attribute.String("gate.recommendation", string(summary.Recommendation)),
	)
	r.log.Info("gate run complete",
		zap.Float64("score", summary.OverallScore),
		zap.String("grade", summary.Grade),
		zap.String("recommendation", string(summary.Recommendation)),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary
}

func (r *Runner) summarize(results []Result) Summary {
	s := Summary{Results: results}

	var sum float64
	var counted int
	var p0Failed, p1Failed, anyFailed bool
	for _, res := range results {
		if res.Skipped {
			s.Skipped++
			continue
		}
		sum += float64(res.Score)
		counted++
		if res.Passed {
			s.Passed++
			continue
		}
		s.Failed++
		anyFailed = true
		switch res.Priority {
		case P0:
			p0Failed = true
		case P1:
			p1Failed = true
		}
	}

	if counted > 0 {
		s.OverallScore = sum / float64(counted)
	} else {
		s.OverallScore = 100
	}
	s.Grade = grade(s.OverallScore)

	switch {
	case p0Failed, r.cfg.Strict && p1Failed:
		s.Recommendation = Block
	case anyFailed:
		s.Recommendation = Warning
	default:
		s.Recommendation = Proceed
	}

	// Stable output order: severity first, then name.
	sort.SliceStable(s.Results, func(i, j int) bool {
		if s.Results[i].Priority != s.Results[j].Priority {
			return s.Results[i].Priority < s.Results[j].Priority
		}
		return s.Results[i].CheckID < s.Results[j].CheckID
	})
	return s
}
