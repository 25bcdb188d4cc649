// Package gate runs the registry of named release checks and turns
// their results into a go/no-go recommendation.
//
// Checks are tagged with a priority tier: P0 blocks the release
// unconditionally on failure, P1 contributes to the score and blocks
// only in strict mode, P2 is informational and never blocks. Checks
// run concurrently and independently; one failing or panicking check
// never aborts the others.
package gate

import (
	"context"
	"fmt"
	"time"
)

// Priority is a check's tier.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
)

// String returns the tier name.
func (p Priority) String() string {
	switch p {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	default:
		return fmt.Sprintf("P%d", int(p))
	}
}

// Recommendation is the gate's release decision.
type Recommendation string

const (
	Proceed Recommendation = "proceed"
	Warning Recommendation = "warning"
	Block   Recommendation = "block"
)

// Check is a single named validation. Implementations must be safe to
// run concurrently with other checks.
type Check interface {
	// ID is the stable dot-delimited check name.
	ID() string
	// Priority is the check's fixed tier.
	Priority() Priority
	// Slow marks long-running checks that may be skipped.
	Slow() bool
	// Run executes the check. It must not panic; the runner recovers
	// as a defensive boundary but a recovered panic scores zero.
	Run(ctx context.Context) Result
}

// Result is the outcome of one check run. Immutable once produced.
type Result struct {
	CheckID         string        `json:"check_id"`
	Priority        Priority      `json:"priority"`
	Passed          bool          `json:"passed"`
	Score           int           `json:"score"`
	Details         string        `json:"details,omitempty"`
	Remediation     string        `json:"remediation,omitempty"`
	CriticalFailure bool          `json:"critical_failure"`
	Skipped         bool          `json:"skipped"`
	Duration        time.Duration `json:"duration_ns"`
}

// Summary aggregates a gate run. Immutable once produced.
type Summary struct {
	Results        []Result       `json:"results"`
	OverallScore   float64        `json:"overall_score"`
	Grade          string         `json:"grade"`
	Recommendation Recommendation `json:"recommendation"`
	Passed         int            `json:"passed"`
	Failed         int            `json:"failed"`
	Skipped        int            `json:"skipped"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration_ns"`
}

// Issues returns failed results at or above the given tier (numerically
// lower tiers are more severe), for operator-facing summaries.
func (s *Summary) Issues(max Priority) []Result {
	var out []Result
	for _, r := range s.Results {
		if !r.Skipped && !r.Passed && r.Priority <= max {
			out = append(out, r)
		}
	}
	return out
}

// grade maps a score to the letter scale.
func grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// pass builds a passing result with a full score.
func pass(id string, p Priority, details string) Result {
	return Result{CheckID: id, Priority: p, Passed: true, Score: 100, Details: details}
}

// fail builds a failing result. P0 failures are critical.
func fail(id string, p Priority, score int, details, remediation string) Result {
	return Result{
		CheckID:         id,
		Priority:        p,
		Score:           score,
		Details:         details,
		Remediation:     remediation,
		CriticalFailure: p == P0,
	}
}
