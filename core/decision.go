package core

import "time"

// Outcome classifies the completion of a single tool call.
type Outcome string

const (
	// OutcomeSuccess means the tool ran and produced a payload.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeFailure means the call failed in a way described by ErrorKind.
	OutcomeFailure Outcome = "FAILURE"
	// OutcomeTimeout means the call exceeded the tool's configured timeout.
	OutcomeTimeout Outcome = "TIMEOUT"
)

// ToolCallRequest is a single tool invocation proposed by the decision
// engine. Arguments carry the raw JSON payload exactly as the model emitted
// it; validation happens inside the invoker. CallID is unique within the
// requesting turn batch.
type ToolCallRequest struct {
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
}

// ToolCallResult is the invoker's normalized answer to a ToolCallRequest.
// On SUCCESS, Payload holds the tool output (JSON-serialized when the tool
// returned a structured value). Otherwise Payload holds a normalized error
// description and ErrorKind names the failure class. Arguments echoes the
// request payload so conversation replays can reconstruct the originating
// call.
type ToolCallResult struct {
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	Arguments string        `json:"arguments,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Payload   string        `json:"payload"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// DecisionKind discriminates the three possible decision shapes.
type DecisionKind string

const (
	// DecisionFinalAnswer ends the loop with a text answer.
	DecisionFinalAnswer DecisionKind = "FINAL_ANSWER"
	// DecisionToolCalls requests execution of one or more tools.
	DecisionToolCalls DecisionKind = "TOOL_CALLS"
	// DecisionAbstain is an explicit refusal / failure signal.
	DecisionAbstain DecisionKind = "ABSTAIN"
)

// AgentDecision is the decision engine's output for one loop iteration.
type AgentDecision struct {
	Kind   DecisionKind      `json:"kind"`
	Answer string            `json:"answer,omitempty"`
	Calls  []ToolCallRequest `json:"calls,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// FinalAnswer builds a FINAL_ANSWER decision.
func FinalAnswer(text string) AgentDecision {
	return AgentDecision{Kind: DecisionFinalAnswer, Answer: text}
}

// ToolCalls builds a TOOL_CALLS decision.
func ToolCalls(calls ...ToolCallRequest) AgentDecision {
	return AgentDecision{Kind: DecisionToolCalls, Calls: calls}
}

// Abstain builds an ABSTAIN decision with an explanatory reason.
func Abstain(reason string) AgentDecision {
	return AgentDecision{Kind: DecisionAbstain, Reason: reason}
}
