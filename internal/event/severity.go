package event

import "fmt"

// Severity is the level of a record. Numbering mirrors zapcore so the
// two scales can be compared directly (trace is -2, info is 0).
type Severity int8

const (
	SeverityTrace Severity = iota - 2
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

// Severities lists all levels in ascending order.
var Severities = []Severity{
	SeverityTrace,
	SeverityDebug,
	SeverityInfo,
	SeverityWarn,
	SeverityError,
	SeverityFatal,
}

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int8(s))
	}
}

// ParseSeverity parses a severity name. Parsing is strict: unknown
// names are an error, not a default.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "trace":
		return SeverityTrace, nil
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	case "fatal":
		return SeverityFatal, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
