package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/tool"
)

// MemoryLookup supplies durable key/value facts for the session being
// decided. Implementations typically read session working memory.
type MemoryLookup func(ctx context.Context) (map[string]string, error)

// Options configure a ProviderEngine.
type Options struct {
	// Instructions is the standing system prompt prepended to every request.
	Instructions string
	// Memory, when set, is consulted before each provider call and its
	// facts are folded into the instructions. Lookup failures are logged
	// and skipped rather than failing the decision.
	Memory MemoryLookup
	// MaxRetries bounds transient provider retries per decision.
	MaxRetries int
	// RetryDelay is the pause between provider retries.
	RetryDelay time.Duration
	// Logger receives decision telemetry.
	Logger logging.Logger
}

// ProviderEngine implements Engine on top of a vendor Provider.
type ProviderEngine struct {
	provider     Provider
	instructions string
	memory       MemoryLookup
	maxRetries   int
	retryDelay   time.Duration
	logger       *logging.AgentLogger
}

// NewEngine wraps a provider in the standard decision pipeline.
func NewEngine(provider Provider, optFns ...func(o *Options)) *ProviderEngine {
	opts := Options{
		Instructions: defaultInstructions,
		MaxRetries:   2,
		RetryDelay:   500 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ProviderEngine{
		provider:     provider,
		instructions: opts.Instructions,
		memory:       opts.Memory,
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
		logger:       logging.NewAgentLogger(opts.Logger).WithComponent("decision"),
	}
}

const defaultInstructions = "You are a helpful assistant. Use the provided tools " +
	"when they help answer the user, and answer directly when they do not."

// Decide implements Engine. With no budget left it returns a forced final
// answer without contacting the provider, so a turn always ends with an
// AGENT turn even at the iteration ceiling.
func (e *ProviderEngine) Decide(
	ctx context.Context,
	history []core.Turn,
	tools []tool.Descriptor,
	budgetRemaining int,
) (core.AgentDecision, error) {
	if budgetRemaining <= 0 {
		return core.FinalAnswer("I was unable to complete the request within the allotted number of steps."), nil
	}

	req := Request{
		Instructions: e.buildInstructions(ctx, budgetRemaining),
		Turns:        history,
	}
	for _, d := range tools {
		req.Tools = append(req.Tools, DefinitionFromDescriptor(d))
	}

	start := time.Now()
	resp, err := e.complete(ctx, req)
	if err != nil {
		e.logger.LogDecision(e.provider.Info().Provider, "", time.Since(start), err)
		return core.AgentDecision{}, err
	}

	decision := e.toDecision(resp)
	e.logger.LogDecision(e.provider.Info().Provider, string(decision.Kind), time.Since(start), nil)
	return decision, nil
}

// complete calls the provider, retrying transient failures a bounded number
// of times. Context errors and non-transient API errors are surfaced as a
// DecisionEngineError immediately.
func (e *ProviderEngine) complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("decision.retry", "attempt", attempt, "error", lastErr.Error())
			timer := time.NewTimer(e.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, engineErr(e.provider, "request cancelled", ctx.Err())
			case <-timer.C:
			}
		}
		resp, err := e.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, engineErr(e.provider, "request cancelled", err)
		}
		if !IsTransient(err) {
			return Response{}, engineErr(e.provider, "provider rejected request", err)
		}
		lastErr = err
	}
	return Response{}, engineErr(e.provider, "provider unavailable after retries", lastErr)
}

// toDecision maps a provider response to a decision. Tool calls win over
// answer text; a fully empty response becomes an abstention.
func (e *ProviderEngine) toDecision(resp Response) core.AgentDecision {
	if len(resp.Calls) > 0 {
		calls := make([]core.ToolCallRequest, len(resp.Calls))
		for i, c := range resp.Calls {
			if c.CallID == "" {
				c.CallID = core.NewID()
			}
			if c.Arguments == "" {
				c.Arguments = "{}"
			}
			calls[i] = c
		}
		return core.ToolCalls(calls...)
	}
	if strings.TrimSpace(resp.Text) != "" {
		return core.FinalAnswer(resp.Text)
	}
	reason := "provider returned an empty response"
	if resp.FinishReason != "" {
		reason = fmt.Sprintf("provider returned an empty response (finish reason %q)", resp.FinishReason)
	}
	return core.Abstain(reason)
}

func (e *ProviderEngine) buildInstructions(ctx context.Context, budgetRemaining int) string {
	var b strings.Builder
	b.WriteString(e.instructions)

	if e.memory != nil {
		facts, err := e.memory(ctx)
		if err != nil {
			e.logger.Warn("decision.memory.lookup_failed", "error", err.Error())
		} else if len(facts) > 0 {
			keys := make([]string, 0, len(facts))
			for k := range facts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString("\n\nKnown facts about this session:")
			for _, k := range keys {
				fmt.Fprintf(&b, "\n- %s: %s", k, facts[k])
			}
		}
	}

	if budgetRemaining == 1 {
		b.WriteString("\n\nThis is your last step. Respond with a final answer now; do not request any tools.")
	}
	return b.String()
}

func engineErr(p Provider, msg string, err error) error {
	return &core.DecisionEngineError{
		Provider: p.Info().Provider,
		Message:  msg,
		Err:      err,
	}
}

// TransientError marks a provider failure worth retrying, such as a rate
// limit or a 5xx response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err carries the transient marker.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
