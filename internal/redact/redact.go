// Package redact removes sensitive values from records before they
// leave the process boundary.
//
// Three rule classes apply, in order:
//
//   - Key rules: any context or error field whose name matches the
//     sensitive list (case-insensitive) is replaced with the fixed
//     marker, never partially leaked.
//   - Mask rules: user-identifier keys keep a fixed prefix/suffix so
//     support can still join on them without seeing full identity.
//   - Value patterns: values matching a configured pattern (credit
//     card PANs, bearer tokens) are replaced with the pattern marker.
//
// Redaction is idempotent: redacting already-redacted output yields
// the same output.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/event"
)

const (
	// Marker replaces values whose key matched a sensitive field.
	Marker = "[REDACTED]"
	// PatternMarker replaces values that matched a value pattern.
	PatternMarker = "[REDACTED:pattern]"

	maxPatternLen = 200
)

// defaultFields are always treated as sensitive regardless of config.
var defaultFields = []string{
	"password", "passwd", "token", "secret", "key", "api_key", "apikey",
	"authorization", "auth", "email", "phone", "credit_card", "card_number",
	"ssn", "session", "cookie",
}

// defaultMaskKeys are masked rather than removed, to preserve
// joinability for support.
var defaultMaskKeys = []string{"user_id", "userid", "account_id"}

// defaultPatterns catch well-known secret shapes in values.
var defaultPatterns = []string{
	`\b(?:\d[ -]?){13,16}\b`,          // credit-card-like PAN
	`(?i)\bbearer\s+[a-z0-9._\-]{8,}`, // bearer tokens
}

// Redactor applies the configured rules to records. It is immutable
// after construction and safe for concurrent use.
type Redactor struct {
	fields   map[string]bool
	maskKeys map[string]bool
	patterns []*regexp.Regexp
	maxStack int
}

// New compiles the redaction rules. Invalid or oversized patterns are
// a construction error, never a silent skip.
func New(cfg config.RedactionConfig) (*Redactor, error) {
	fields := make(map[string]bool)
	for _, f := range defaultFields {
		fields[f] = true
	}
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	maskKeys := make(map[string]bool)
	for _, k := range defaultMaskKeys {
		maskKeys[k] = true
	}
	for _, k := range cfg.MaskKeys {
		maskKeys[strings.ToLower(k)] = true
	}

	raw := append(append([]string(nil), defaultPatterns...), cfg.Patterns...)
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	maxStack := cfg.MaxStackLines
	if maxStack <= 0 {
		maxStack = 50
	}

	return &Redactor{
		fields:   fields,
		maskKeys: maskKeys,
		patterns: patterns,
		maxStack: maxStack,
	}, nil
}

// Redact returns a copy of the record with sensitive values masked
// and stack traces truncated. The input record is not mutated.
func (r *Redactor) Redact(rec *event.Record) *event.Record {
	out := rec.Clone()
	if out.Context != nil {
		out.Context = r.redactMap(out.Context)
	}
	if out.Err != nil {
		if len(out.Err.Stack) > r.maxStack {
			out.Err.Stack = out.Err.Stack[:r.maxStack]
		}
		out.Err.Message = r.redactValue(out.Err.Message)
	}
	return out
}

func (r *Redactor) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.redactEntry(k, v)
	}
	return out
}

func (r *Redactor) redactEntry(key string, val any) any {
	lower := strings.ToLower(key)
	if r.fields[lower] {
		return Marker
	}
	if r.maskKeys[lower] {
		if s, ok := val.(string); ok {
			return maskIdentifier(s)
		}
		return Marker
	}
	switch v := val.(type) {
	case string:
		return r.redactValue(v)
	case map[string]any:
		return r.redactMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.redactEntry(key, item)
		}
		return out
	default:
		return val
	}
}

// redactValue applies value patterns to a scalar string.
func (r *Redactor) redactValue(s string) string {
	if s == Marker || s == PatternMarker {
		return s
	}
	for _, re := range r.patterns {
		if re.MatchString(s) {
			return PatternMarker
		}
	}
	return s
}

// maskIdentifier keeps the first and last two runes of an identifier.
// Masking an already-masked identifier yields the same output.
func maskIdentifier(s string) string {
	if s == "" || s == Marker {
		return s
	}
	runes := []rune(s)
	if len(runes) <= 4 {
		return Marker
	}
	if strings.Contains(s, "***") {
		return s
	}
	return string(runes[:2]) + "***" + string(runes[len(runes)-2:])
}
