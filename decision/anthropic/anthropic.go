// Package anthropic implements decision.Provider using the Anthropic
// Messages API with tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/decision"
)

// Options configure the Anthropic provider (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind decision.Provider.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewProvider creates a provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Complete implements decision.Provider with a single non-streaming call.
func (p *Provider) Complete(ctx context.Context, req decision.Request) (decision.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		Messages:    buildMessages(req.Turns),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return decision.Response{}, classify(fmt.Errorf("anthropic api error: %w", err))
	}

	out := decision.Response{FinishReason: string(resp.StopReason)}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"
			if toolBlock.Input != nil {
				if encoded, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(encoded)
				}
			}
			out.Calls = append(out.Calls, core.ToolCallRequest{
				CallID:    toolBlock.ID,
				Tool:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &decision.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}
	return out, nil
}

// buildMessages converts turn history into Anthropic messages. A run of
// consecutive TOOL turns becomes an assistant message with tool_use blocks
// followed by a user message with the matching tool_result blocks.
func buildMessages(turns []core.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	var pending []core.Turn
	flush := func() {
		if len(pending) == 0 {
			return
		}
		var uses []anthropic.ContentBlockParamUnion
		var results []anthropic.ContentBlockParamUnion
		for _, t := range pending {
			var input any
			if t.Arguments != "" {
				if err := json.Unmarshal([]byte(t.Arguments), &input); err != nil {
					input = t.Arguments
				}
			}
			uses = append(uses, anthropic.NewToolUseBlock(t.CallID, input, t.ToolName))
			results = append(results, anthropic.NewToolResultBlock(
				t.CallID,
				toolResultText(t),
				t.Outcome != core.OutcomeSuccess,
			))
		}
		messages = append(messages, anthropic.NewAssistantMessage(uses...))
		messages = append(messages, anthropic.NewUserMessage(results...))
		pending = nil
	}

	for _, t := range turns {
		switch t.Role {
		case core.RoleTool:
			pending = append(pending, t)
		case core.RoleUser:
			flush()
			if t.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
			}
		case core.RoleAgent:
			flush()
			if t.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
			}
		}
	}
	flush()
	return messages
}

func toolResultText(t core.Turn) string {
	if t.Outcome == core.OutcomeSuccess {
		return t.Content
	}
	return fmt.Sprintf("ERROR (%s): %s", t.ErrorKind, t.Content)
}

// buildTools converts definitions into the Anthropic tool format.
func buildTools(tools []decision.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, ok := tdef.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := tdef.Parameters["required"]; ok {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return out
}

// classify tags retryable API failures as transient so the engine retries
// them.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode == 529 || apierr.StatusCode >= 500 {
			return decision.Transient(err)
		}
		return err
	}
	return decision.Transient(err)
}

// Info returns metadata describing this provider.
func (p *Provider) Info() decision.Info {
	return decision.Info{
		Name:          string(p.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
