// Package decision turns conversation history into the next agent action.
// A Provider adapts one model vendor's completion API into the normalized
// Request/Response pair; the Engine built on top maps provider responses to
// AgentDecision values and owns retry and budget handling.
package decision

import (
	"context"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/tool"
)

// ToolDefinition declaratively exposes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// DefinitionFromDescriptor projects a registry descriptor into the shape
// providers send to their APIs.
func DefinitionFromDescriptor(d tool.Descriptor) ToolDefinition {
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

// Request captures the normalized model input for one decision.
type Request struct {
	Instructions string           `json:"instructions"`
	Turns        []core.Turn      `json:"turns"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token accounting reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider's completed answer. Either Text, Calls, or both may
// be populated; a response with calls takes precedence over its text.
type Response struct {
	Text         string                 `json:"text,omitempty"`
	Calls        []core.ToolCallRequest `json:"calls,omitempty"`
	FinishReason string                 `json:"finish_reason,omitempty"`
	Usage        *TokenUsage            `json:"usage,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal vendor-facing interface. Complete is synchronous;
// implementations must honor ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Info() Info
}

// Engine produces the next action for a session given its full history so
// far and the tools currently registered. budgetRemaining counts the loop
// iterations still allowed for this turn, the current one included.
type Engine interface {
	Decide(ctx context.Context, history []core.Turn, tools []tool.Descriptor, budgetRemaining int) (core.AgentDecision, error)
}
