// Package invoker executes tool calls against the registry with argument
// validation, per-call timeouts, policy-driven retries and error
// normalization. Every call produces exactly one ToolCallResult; tool
// failures never propagate as Go errors to the orchestration loop.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/internal/util"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/tool"
)

// Options configure an Invoker.
type Options struct {
	// MaxParallel bounds concurrent executions within one batch.
	// 0 or negative means no explicit limit.
	MaxParallel int
	// Logger receives per-call execution records.
	Logger logging.Logger
}

// Invoker resolves, validates and executes tool calls. It is stateless apart
// from its registry reference and safe for concurrent use.
type Invoker struct {
	registry    *tool.Registry
	maxParallel int
	logger      *logging.AgentLogger
}

// New constructs an Invoker over a registry.
func New(registry *tool.Registry, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		MaxParallel: 4,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Invoker{
		registry:    registry,
		maxParallel: opts.MaxParallel,
		logger:      logging.NewAgentLogger(opts.Logger).WithComponent("invoker"),
	}
}

// Invoke executes a single tool call request and returns its normalized
// result. The pipeline is: resolve, validate arguments, execute under the
// tool's timeout, retry per policy, validate output.
func (inv *Invoker) Invoke(ctx context.Context, req core.ToolCallRequest) core.ToolCallResult {
	start := time.Now()

	t, err := inv.registry.Resolve(req.Tool)
	if err != nil {
		inv.logger.Warn("tool.invoke.unknown", "tool", req.Tool, "call_id", req.CallID)
		return failure(req, core.ErrorKindUnknownTool, err.Error(), time.Since(start))
	}
	desc := t.Descriptor()

	args, err := decodeArgs(req.Arguments)
	if err != nil {
		inv.logger.Warn("tool.invoke.bad_arguments", "tool", req.Tool, "call_id", req.CallID, "error", err.Error())
		return failure(req, core.ErrorKindSchemaViolation, err.Error(), time.Since(start))
	}
	if desc.InputSchema != nil {
		if err := util.ValidateParameters(args, desc.InputSchema); err != nil {
			inv.logger.Warn("tool.invoke.validation_failed", "tool", req.Tool, "call_id", req.CallID, "error", err.Error())
			return failure(req, core.ErrorKindSchemaViolation, err.Error(), time.Since(start))
		}
	}

	result := inv.execute(ctx, t, desc, req, args)
	result.Elapsed = time.Since(start)
	inv.logger.LogToolCall(req.Tool, req.CallID, result.Elapsed, resultErr(result))
	return result
}

// execute runs the tool under its timeout, applying the retry policy.
// READ_ONLY tools retry by default; MUTATING tools only when their policy
// marks the operation idempotent. Timeouts are retried only when the policy
// explicitly covers them.
func (inv *Invoker) execute(
	ctx context.Context,
	t tool.Tool,
	desc tool.Descriptor,
	req core.ToolCallRequest,
	args map[string]any,
) core.ToolCallResult {
	retryable := desc.Classification == tool.ReadOnly || desc.Retry.Idempotent
	maxAttempts := desc.Retry.MaxAttempts
	if maxAttempts < 1 || !retryable {
		maxAttempts = 1
	}

	var lastErr error
	lastTimedOut := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			inv.logger.Debug("tool.invoke.retry", "tool", req.Tool, "call_id", req.CallID, "attempt", attempt)
			if err := sleep(ctx, desc.Retry.Backoff(attempt-1)); err != nil {
				return failure(req, core.ErrorKindCancelled, err.Error(), 0)
			}
		}

		out, err := inv.runOnce(ctx, t, desc.Timeout, args)
		switch {
		case err == nil:
			return inv.success(desc, req, out)
		case ctx.Err() != nil:
			// Parent turn cancelled or timed out; do not retry.
			return failure(req, core.ErrorKindCancelled, ctx.Err().Error(), 0)
		case errors.Is(err, context.DeadlineExceeded):
			lastErr, lastTimedOut = err, true
			if !desc.Retry.RetryTimeouts {
				return timeout(req, desc.Timeout)
			}
		default:
			lastErr, lastTimedOut = err, false
		}
	}

	if lastTimedOut {
		return timeout(req, desc.Timeout)
	}
	return failure(req, core.ErrorKindExecutionError, lastErr.Error(), 0)
}

// runOnce executes one attempt under the per-call timeout with panic
// isolation. The execution goroutine is abandoned on timeout; cancellation
// of the derived context is the best-effort stop signal for the tool.
func (inv *Invoker) runOnce(ctx context.Context, t tool.Tool, timeout time.Duration, args map[string]any) (any, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				inv.logger.Error("tool.invoke.panic", "tool", t.Descriptor().Name, "recover", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := t.Call(callCtx, args)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// success serializes the tool output and applies optional output-schema
// validation. A validation failure downgrades to FAILURE with kind
// OUTPUT_SCHEMA_VIOLATION: the tool's effect, if mutating, has already
// happened and is reported as applied with malformed output.
func (inv *Invoker) success(desc tool.Descriptor, req core.ToolCallRequest, out any) core.ToolCallResult {
	if desc.OutputSchema != nil {
		outMap, ok := out.(map[string]any)
		if !ok {
			return failure(req, core.ErrorKindOutputSchemaViolation,
				fmt.Sprintf("expected object output, got %T", out), 0)
		}
		if err := util.ValidateParameters(outMap, desc.OutputSchema); err != nil {
			return failure(req, core.ErrorKindOutputSchemaViolation, err.Error(), 0)
		}
	}

	payload, err := encodePayload(out)
	if err != nil {
		return failure(req, core.ErrorKindOutputSchemaViolation, err.Error(), 0)
	}
	return core.ToolCallResult{
		CallID:    req.CallID,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Outcome:   core.OutcomeSuccess,
		Payload:   payload,
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}

func encodePayload(out any) (string, error) {
	if s, ok := out.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool output is not JSON-serializable: %w", err)
	}
	return string(encoded), nil
}

func failure(req core.ToolCallRequest, kind core.ErrorKind, msg string, elapsed time.Duration) core.ToolCallResult {
	return core.ToolCallResult{
		CallID:    req.CallID,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Outcome:   core.OutcomeFailure,
		Payload:   msg,
		ErrorKind: kind,
		Elapsed:   elapsed,
	}
}

func timeout(req core.ToolCallRequest, limit time.Duration) core.ToolCallResult {
	return core.ToolCallResult{
		CallID:    req.CallID,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Outcome:   core.OutcomeTimeout,
		Payload:   fmt.Sprintf("tool did not complete within %s", limit),
		ErrorKind: core.ErrorKindTimeout,
	}
}

func resultErr(res core.ToolCallResult) error {
	if res.Outcome == core.OutcomeSuccess {
		return nil
	}
	return fmt.Errorf("%s: %s", res.ErrorKind, res.Payload)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
