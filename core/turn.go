package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks an inbound user message.
	RoleUser Role = "USER"
	// RoleAgent marks a final answer produced by the agent.
	RoleAgent Role = "AGENT"
	// RoleTool marks a tool call result folded into the conversation.
	RoleTool Role = "TOOL"
)

// Turn is one atomic unit of conversation content. Turns form an append-only
// ordered sequence per session; after being appended they are never mutated
// or reordered. TOOL turns carry the correlation ID and outcome of the tool
// call that produced them so the decision engine can disambiguate which
// request a result answers.
type Turn struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	ToolName  string        `json:"tool_name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewUserTurn creates a USER turn for an inbound message.
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentTurn creates an AGENT turn carrying the final answer.
func NewAgentTurn(content string) Turn {
	return Turn{
		ID:        NewID(),
		Role:      RoleAgent,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolTurn creates a TOOL turn from a completed tool call result.
func NewToolTurn(res ToolCallResult) Turn {
	return Turn{
		ID:        NewID(),
		Role:      RoleTool,
		Content:   res.Payload,
		ToolName:  res.Tool,
		CallID:    res.CallID,
		Arguments: res.Arguments,
		Outcome:   res.Outcome,
		ErrorKind: res.ErrorKind,
		Elapsed:   res.Elapsed,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a unique identifier for sessions, turns and tool calls.
func NewID() string { return uuid.NewString() }
