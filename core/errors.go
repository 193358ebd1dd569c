package core

import "fmt"

// ErrorKind labels a failure class in caller-visible results and TOOL turns.
// Kinds are stable strings so transports and logs can carry them verbatim.
type ErrorKind string

const (
	// ErrorKindUnknownTool means the requested tool is not registered.
	ErrorKindUnknownTool ErrorKind = "UNKNOWN_TOOL"
	// ErrorKindSchemaViolation means the argument payload failed input
	// schema validation; the tool implementation was never executed.
	ErrorKindSchemaViolation ErrorKind = "SCHEMA_VIOLATION"
	// ErrorKindOutputSchemaViolation means the tool ran (its effect, if
	// mutating, has already happened) but produced malformed output.
	ErrorKindOutputSchemaViolation ErrorKind = "OUTPUT_SCHEMA_VIOLATION"
	// ErrorKindExecutionError means the tool implementation failed after
	// exhausting its retry policy.
	ErrorKindExecutionError ErrorKind = "EXECUTION_ERROR"
	// ErrorKindTimeout means a per-call or per-turn deadline fired.
	ErrorKindTimeout ErrorKind = "TIMEOUT"
	// ErrorKindCancelled means the caller cancelled the turn.
	ErrorKindCancelled ErrorKind = "CANCELLED"
	// ErrorKindBudgetExhausted means the loop hit its iteration ceiling.
	ErrorKindBudgetExhausted ErrorKind = "BUDGET_EXHAUSTED"
	// ErrorKindDecisionEngine means the model provider failed permanently.
	ErrorKindDecisionEngine ErrorKind = "DECISION_ENGINE_ERROR"
	// ErrorKindAbstained means the decision engine explicitly refused.
	ErrorKindAbstained ErrorKind = "ABSTAINED"
	// ErrorKindStorage means the memory store is unavailable.
	ErrorKindStorage ErrorKind = "STORAGE_ERROR"
	// ErrorKindSessionNotActive means the target session is terminal.
	ErrorKindSessionNotActive ErrorKind = "SESSION_NOT_ACTIVE"
	// ErrorKindInternal covers state machine misuse that should never occur
	// in correct operation.
	ErrorKindInternal ErrorKind = "INTERNAL_ERROR"
)

// InvalidStateError reports an operation against a session whose status does
// not permit it (e.g. appending a turn to a non-ACTIVE session).
type InvalidStateError struct {
	SessionID string
	Status    SessionStatus
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s on session %s with status %s", e.Op, e.SessionID, e.Status)
}

// InvalidTransitionError reports an illegal session status transition, such
// as COMPLETED -> ACTIVE.
type InvalidTransitionError struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: session %s %s -> %s", e.SessionID, e.From, e.To)
}

// DecisionEngineError wraps a non-recoverable model provider failure. The
// orchestration loop terminates the turn when it sees one.
type DecisionEngineError struct {
	Provider string
	Message  string
	Err      error
}

func (e *DecisionEngineError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("decision engine (%s): %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("decision engine: %s", e.Message)
}

// Unwrap exposes the underlying provider error for errors.Is/As.
func (e *DecisionEngineError) Unwrap() error { return e.Err }
