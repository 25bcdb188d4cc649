package resilience

import (
	"fmt"
	"time"
)

// FailureType classifies an observed telemetry failure.
type FailureType string

const (
	FailureBackendUnavailable FailureType = "backend-unavailable"
	FailureStorageExhausted   FailureType = "storage-exhausted"
	FailureNetworkError       FailureType = "network-error"
	FailureWriteFailure       FailureType = "write-failure"
)

// RecoveryStrategy names how the manager responds to a failure type.
type RecoveryStrategy string

const (
	StrategyRetry          RecoveryStrategy = "retry"
	StrategyCircuitBreaker RecoveryStrategy = "circuit-breaker"
	StrategyDegrade        RecoveryStrategy = "degrade"
)

// DegradationLevel is the system-wide severity derived from the set
// of unresolved failures. It is always recomputed, never persisted.
type DegradationLevel int

const (
	DegradationNone DegradationLevel = iota
	DegradationReduced
	DegradationMinimal
	DegradationEmergency
)

// String returns the level name.
func (l DegradationLevel) String() string {
	switch l {
	case DegradationNone:
		return "none"
	case DegradationReduced:
		return "reduced"
	case DegradationMinimal:
		return "minimal"
	case DegradationEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// FailureRecord tracks one kind of failure from first observation to
// resolution. Owned exclusively by the Manager.
type FailureRecord struct {
	Type        FailureType      `json:"type"`
	Severity    DegradationLevel `json:"severity"`
	Strategy    RecoveryStrategy `json:"recovery_strategy"`
	Count       int              `json:"count"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
	Resolved    bool             `json:"resolved"`
	ResolvedAt  time.Time        `json:"resolved_at,omitempty"`
}

// failureSeverity is the fixed degradation weight per failure type.
var failureSeverity = map[FailureType]DegradationLevel{
	FailureWriteFailure:       DegradationReduced,
	FailureNetworkError:       DegradationReduced,
	FailureBackendUnavailable: DegradationMinimal,
	FailureStorageExhausted:   DegradationMinimal,
}

// failureStrategy is the fixed recovery strategy per failure type.
var failureStrategy = map[FailureType]RecoveryStrategy{
	FailureBackendUnavailable: StrategyCircuitBreaker,
	FailureStorageExhausted:   StrategyDegrade,
	FailureNetworkError:       StrategyRetry,
	FailureWriteFailure:       StrategyRetry,
}
