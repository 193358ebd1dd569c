// Package openai implements decision.Provider using the OpenAI Chat
// Completions API with function calling. Turn history is adapted into the
// SDK's message format and tool calls are mapped back to normalized
// requests.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/decision"
)

// Options configure the OpenAI provider. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Provider wraps the OpenAI Chat Completions API behind decision.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewProvider creates a provider using the official client. Environment
// credentials are used unless an API key is set in the options.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Complete implements decision.Provider with a single non-streaming call.
func (p *Provider) Complete(ctx context.Context, req decision.Request) (decision.Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Name,
					Description: openai.String(tdef.Description),
					Parameters:  tdef.Parameters,
				},
			}
		}
		params.Tools = tools
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return decision.Response{}, classify(fmt.Errorf("openai api error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return decision.Response{}, decision.Transient(fmt.Errorf("no choices returned"))
	}

	ch0 := resp.Choices[0]
	out := decision.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
	}
	for _, tc := range ch0.Message.ToolCalls {
		out.Calls = append(out.Calls, core.ToolCallRequest{
			CallID:    tc.ID,
			Tool:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &decision.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out, nil
}

// buildMessages converts turn history into OpenAI chat messages. A run of
// consecutive TOOL turns is preceded by a synthesized assistant message
// re-declaring the calls, which the API requires before tool results.
func buildMessages(req decision.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	var pending []core.Turn
	flush := func() {
		if len(pending) == 0 {
			return
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(pending))
		for i, t := range pending {
			args := t.Arguments
			if args == "" {
				args = "{}"
			}
			toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
				ID:   t.CallID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      t.ToolName,
					Arguments: args,
				},
			}
		}
		messages = append(
			messages,
			openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}},
		)
		for _, t := range pending {
			messages = append(messages, openai.ToolMessage(toolResultText(t), t.CallID))
		}
		pending = nil
	}

	for _, t := range req.Turns {
		switch t.Role {
		case core.RoleTool:
			pending = append(pending, t)
		case core.RoleUser:
			flush()
			messages = append(messages, openai.UserMessage(t.Content))
		case core.RoleAgent:
			flush()
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}
	flush()
	return messages
}

// toolResultText renders a tool turn for the model. Failures include the
// error kind so the model can reason about what went wrong.
func toolResultText(t core.Turn) string {
	if t.Outcome == core.OutcomeSuccess {
		return t.Content
	}
	return fmt.Sprintf("ERROR (%s): %s", t.ErrorKind, t.Content)
}

// classify tags retryable API failures (rate limits, server errors) as
// transient so the engine retries them.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
			return decision.Transient(err)
		}
		return err
	}
	// Transport-level failures have no status code; treat as transient.
	return decision.Transient(err)
}

// Info returns metadata describing this provider.
func (p *Provider) Info() decision.Info {
	return decision.Info{
		Name:          p.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
