// Package tool implements the tool catalog that lets the agent invoke
// structured capabilities (APIs, computations, side effects) with schema
// validated arguments, consistent error handling and metadata the decision
// engine uses to advertise capabilities to the model.
package tool

import (
	"context"
	"fmt"
	"time"
)

// Classification marks whether a tool mutates external state. The invoker
// uses it to decide retry eligibility: READ_ONLY tools retry by default,
// MUTATING tools only when their policy marks them idempotent.
type Classification string

const (
	// ReadOnly tools have no observable side effects.
	ReadOnly Classification = "READ_ONLY"
	// Mutating tools change external state when executed.
	Mutating Classification = "MUTATING"
)

// Descriptor is the static registry entry for a tool: identity, schemas and
// execution policy. Descriptors are immutable after registration.
type Descriptor struct {
	// Name is the unique identifier within a registry (snake_case).
	Name string
	// Description is shown to the model to guide tool selection.
	Description string
	// InputSchema is a minimal JSON schema validated before execution.
	InputSchema map[string]any
	// OutputSchema optionally validates the tool's output payload.
	OutputSchema map[string]any
	// Classification distinguishes READ_ONLY from MUTATING tools.
	Classification Classification
	// Timeout bounds a single execution attempt.
	Timeout time.Duration
	// Retry governs re-execution after failures.
	Retry RetryPolicy
}

// Tool is the closed capability interface registered in the lookup table.
// New tools are added by registering new entries, not by subclassing.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for arguments
//   - Be safe for concurrent use
//   - Honor ctx cancellation in long-running work
type Tool interface {
	// Descriptor returns the tool's static metadata.
	Descriptor() Descriptor

	// Call executes the tool with already-validated arguments. The returned
	// value must be JSON-serializable.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution, carrying a
// code for categorization.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// DuplicateToolError reports a registration under an already-taken name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError reports a lookup for an unregistered name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
