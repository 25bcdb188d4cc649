// Package sampling bounds log volume with per-severity keep rates.
//
// Each severity tier has an independent rate in [0,1]. Decisions are
// per-record uniform draws, not batched, so observed retention
// converges on the configured rate. Error and fatal default to 1.0
// and are kept unless explicitly configured otherwise.
package sampling

import (
	"fmt"
	"math/rand/v2"

	"github.com/fyrsmithlabs/opsgate/internal/event"
)

// defaultRates bound cost for the chattier tiers.
var defaultRates = map[event.Severity]float64{
	event.SeverityTrace: 0.01,
	event.SeverityDebug: 0.05,
	event.SeverityInfo:  0.25,
	event.SeverityWarn:  1.0,
	event.SeverityError: 1.0,
	event.SeverityFatal: 1.0,
}

// Policy decides whether individual records are kept or dropped.
// Safe for concurrent use.
type Policy struct {
	rates     map[event.Severity]float64
	randFloat func() float64
}

// NewPolicy builds a policy from severity-name keyed rates (as they
// appear in config). Unlisted severities use the defaults.
func NewPolicy(rates map[string]float64) (*Policy, error) {
	resolved := make(map[event.Severity]float64, len(defaultRates))
	for sev, rate := range defaultRates {
		resolved[sev] = rate
	}
	for name, rate := range rates {
		sev, err := event.ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("sampling: %w", err)
		}
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("sampling: rate for %s must be in [0,1], got %v", name, rate)
		}
		resolved[sev] = rate
	}
	return &Policy{rates: resolved, randFloat: rand.Float64}, nil
}

// Sample reports whether a record of the given severity is kept. Each
// call is an independent uniform draw against the tier's rate.
func (p *Policy) Sample(sev event.Severity) bool {
	rate := p.Rate(sev)
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return p.randFloat() < rate
}

// Rate returns the configured rate for a severity. Unknown severities
// are always kept.
func (p *Policy) Rate(sev event.Severity) float64 {
	rate, ok := p.rates[sev]
	if !ok {
		return 1.0
	}
	return rate
}
