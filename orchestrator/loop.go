// Package orchestrator drives one user turn to completion: decide, execute
// tools, fold results back into the conversation, repeat until a final
// answer or a structured failure. The loop holds no conversation state of
// its own; every iteration reloads history from the memory store, so a
// crashed process can resume from the last appended turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/decision"
	"github.com/mwielgat/agentd/dispatch"
	"github.com/mwielgat/agentd/invoker"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/memory"
	"github.com/mwielgat/agentd/tool"
)

// Result is the structured outcome of one user turn. ErrorKind is empty on
// success; otherwise it names the failure class and ErrorMessage explains it.
type Result struct {
	SessionID    string             `json:"session_id"`
	Answer       string             `json:"answer,omitempty"`
	Status       core.SessionStatus `json:"status"`
	ErrorKind    core.ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error,omitempty"`
}

// Options configure a Loop.
type Options struct {
	// MaxIterations caps decide/execute round trips per user turn.
	MaxIterations int
	// TurnTimeout bounds the wall clock of one whole user turn.
	TurnTimeout time.Duration
	// HistoryLimit bounds the turns sent to the decision engine; 0 sends
	// the full log.
	HistoryLimit int
	// MaxRepeatCalls allows an identical tool call (name plus arguments)
	// this many executions per user turn before further repeats are
	// suppressed without dispatch.
	MaxRepeatCalls int
	// Dispatcher, when set, receives turn and status events.
	Dispatcher *dispatch.Dispatcher
	// Summarizer, when set, condenses finished conversations of at least
	// SummarizeAfter turns into the session's working memory.
	Summarizer     *decision.Summarizer
	SummarizeAfter int
	// Logger receives loop telemetry.
	Logger logging.Logger
}

// Loop coordinates the store, decision engine, and tool invoker.
type Loop struct {
	store          memory.Store
	engine         decision.Engine
	invoker        *invoker.Invoker
	registry       *tool.Registry
	maxIterations  int
	turnTimeout    time.Duration
	historyLimit   int
	maxRepeatCalls int
	dispatcher     *dispatch.Dispatcher
	summarizer     *decision.Summarizer
	summarizeAfter int
	logger         *logging.AgentLogger
	locks          *sessionLocks
}

// New constructs a Loop.
func New(
	store memory.Store,
	engine decision.Engine,
	inv *invoker.Invoker,
	registry *tool.Registry,
	optFns ...func(o *Options),
) *Loop {
	opts := Options{
		MaxIterations:  8,
		TurnTimeout:    2 * time.Minute,
		MaxRepeatCalls: 2,
		SummarizeAfter: 10,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loop{
		store:          store,
		engine:         engine,
		invoker:        inv,
		registry:       registry,
		maxIterations:  opts.MaxIterations,
		turnTimeout:    opts.TurnTimeout,
		historyLimit:   opts.HistoryLimit,
		maxRepeatCalls: opts.MaxRepeatCalls,
		dispatcher:     opts.Dispatcher,
		summarizer:     opts.Summarizer,
		summarizeAfter: opts.SummarizeAfter,
		logger:         logging.NewAgentLogger(opts.Logger).WithComponent("orchestrator"),
		locks:          newSessionLocks(),
	}
}

func (l *Loop) lockSession(id string) func() { return l.locks.acquire(id) }

// HandleMessage runs one user turn against a session. An empty sessionID
// allocates a fresh session. The returned error is non-nil only for
// infrastructure failures (unknown session, storage unavailable); all
// agent-level failures come back as a Result with a populated ErrorKind.
func (l *Loop) HandleMessage(ctx context.Context, sessionID, message string) (Result, error) {
	session, err := l.resolveSession(ctx, sessionID)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}

	unlock := l.lockSession(session.ID)
	defer unlock()

	// Re-read under the lock: a concurrent turn may have finished the
	// session between resolve and lock acquisition.
	session, err = l.store.GetSession(ctx, session.ID)
	if err != nil {
		return Result{SessionID: sessionID}, err
	}
	if session.Status != core.SessionActive {
		return Result{
			SessionID:    session.ID,
			Status:       session.Status,
			ErrorKind:    core.ErrorKindSessionNotActive,
			ErrorMessage: fmt.Sprintf("session is %s and accepts no further messages", session.Status),
		}, nil
	}

	turnCtx, cancel := context.WithTimeout(core.WithSessionID(ctx, session.ID), l.turnTimeout)
	defer cancel()

	userTurn := core.NewUserTurn(message)
	if err := l.appendTurn(turnCtx, session.ID, userTurn); err != nil {
		return Result{SessionID: session.ID}, err
	}

	log := l.logger.WithSession(session.ID, userTurn.ID)
	log.Info("turn.start", "message_len", len(message))

	res, err := l.run(turnCtx, ctx, session.ID, log)
	res.SessionID = session.ID
	if err != nil {
		return res, err
	}
	log.Info("turn.end", "status", string(res.Status), "error_kind", string(res.ErrorKind))
	return res, nil
}

// run executes the decide/execute cycle. turnCtx carries the per-turn
// deadline; parent distinguishes caller cancellation from deadline expiry.
func (l *Loop) run(turnCtx, parent context.Context, sessionID string, log *logging.AgentLogger) (Result, error) {
	descriptors := l.registry.Descriptors()
	executions := map[string]int{}

	for i := 0; i < l.maxIterations; i++ {
		if err := turnCtx.Err(); err != nil {
			return l.fail(parent, sessionID, l.ctxKind(turnCtx, parent), "turn aborted: "+err.Error())
		}

		history, err := l.store.GetHistory(turnCtx, sessionID, l.historyLimit)
		if err != nil {
			return Result{}, err
		}

		dec, err := l.engine.Decide(turnCtx, history, descriptors, l.maxIterations-i)
		if err != nil {
			if turnCtx.Err() != nil {
				return l.fail(parent, sessionID, l.ctxKind(turnCtx, parent), "turn aborted: "+turnCtx.Err().Error())
			}
			log.Error("decision.failed", "error", err.Error())
			return l.fail(parent, sessionID, core.ErrorKindDecisionEngine, err.Error())
		}

		switch dec.Kind {
		case core.DecisionFinalAnswer:
			return l.finalize(parent, sessionID, dec.Answer)

		case core.DecisionAbstain:
			log.Warn("decision.abstain", "reason", dec.Reason)
			return l.fail(parent, sessionID, core.ErrorKindAbstained, dec.Reason)

		case core.DecisionToolCalls:
			if err := l.executeCalls(turnCtx, sessionID, dec.Calls, executions, log); err != nil {
				return Result{}, err
			}

		default:
			return l.fail(parent, sessionID, core.ErrorKindInternal,
				fmt.Sprintf("unknown decision kind %q", dec.Kind))
		}
	}

	log.Warn("turn.budget_exhausted", "iterations", l.maxIterations)
	return l.fail(parent, sessionID, core.ErrorKindBudgetExhausted,
		fmt.Sprintf("no final answer after %d iterations", l.maxIterations))
}

// executeCalls dispatches one phase of tool calls and appends every result
// as a TOOL turn in completion order. Calls already executed MaxRepeatCalls
// times this user turn are answered with a synthesized failure instead of
// being dispatched again.
func (l *Loop) executeCalls(
	ctx context.Context,
	sessionID string,
	calls []core.ToolCallRequest,
	executions map[string]int,
	log *logging.AgentLogger,
) error {
	var dispatchable []core.ToolCallRequest
	for _, call := range calls {
		key := call.Tool + "\x00" + call.Arguments
		if executions[key] >= l.maxRepeatCalls {
			log.Warn("tool.call.suppressed", "tool", call.Tool, "call_id", call.CallID)
			suppressed := core.ToolCallResult{
				CallID:    call.CallID,
				Tool:      call.Tool,
				Arguments: call.Arguments,
				Outcome:   core.OutcomeFailure,
				ErrorKind: core.ErrorKindExecutionError,
				Payload:   "repeated call suppressed: identical call already attempted this turn",
			}
			if err := l.appendTurn(ctx, sessionID, core.NewToolTurn(suppressed)); err != nil {
				return err
			}
			continue
		}
		executions[key]++
		dispatchable = append(dispatchable, call)
	}

	// Result turns are appended on a detached context: when the turn is
	// cancelled mid-phase, the CANCELLED results still land in the log.
	appendCtx := context.WithoutCancel(ctx)
	var appendErr error
	l.invoker.InvokeAll(ctx, dispatchable, func(res core.ToolCallResult) error {
		if err := l.appendTurn(appendCtx, sessionID, core.NewToolTurn(res)); err != nil {
			if appendErr == nil {
				appendErr = err
			}
			return err
		}
		return nil
	})
	return appendErr
}

// finalize records the agent's answer and completes the session.
func (l *Loop) finalize(ctx context.Context, sessionID, answer string) (Result, error) {
	if err := l.appendTurn(ctx, sessionID, core.NewAgentTurn(answer)); err != nil {
		return Result{}, err
	}
	if err := l.setStatus(ctx, sessionID, core.SessionCompleted); err != nil {
		return Result{}, err
	}
	l.maybeSummarize(ctx, sessionID)
	return Result{Answer: answer, Status: core.SessionCompleted}, nil
}

// fail marks the session FAILED and returns the structured failure. The
// status write is detached from cancellation so the session record reflects
// the failure even when the caller has gone away.
func (l *Loop) fail(ctx context.Context, sessionID string, kind core.ErrorKind, msg string) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	if err := l.setStatus(ctx, sessionID, core.SessionFailed); err != nil {
		return Result{}, err
	}
	return Result{
		Status:       core.SessionFailed,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}, nil
}

func (l *Loop) appendTurn(ctx context.Context, sessionID string, turn core.Turn) error {
	if err := l.store.AppendTurn(ctx, sessionID, turn); err != nil {
		return err
	}
	if l.dispatcher != nil {
		l.dispatcher.TurnAppended(ctx, sessionID, turn)
	}
	return nil
}

func (l *Loop) setStatus(ctx context.Context, sessionID string, status core.SessionStatus) error {
	if err := l.store.SetStatus(ctx, sessionID, status); err != nil {
		return err
	}
	if l.dispatcher != nil {
		l.dispatcher.StatusChanged(ctx, sessionID, status)
	}
	return nil
}

// maybeSummarize stores a synopsis of long finished conversations into
// session working memory. Failures are logged and swallowed; the turn
// already succeeded.
func (l *Loop) maybeSummarize(ctx context.Context, sessionID string) {
	if l.summarizer == nil {
		return
	}
	history, err := l.store.GetHistory(ctx, sessionID, 0)
	if err != nil || len(history) < l.summarizeAfter {
		return
	}
	summary, err := l.summarizer.Summarize(ctx, history)
	if err != nil {
		l.logger.Warn("summarize.failed", "session_id", sessionID, "error", err.Error())
		return
	}
	if summary == "" {
		return
	}
	if err := l.store.PutState(ctx, sessionID, map[string]string{"summary": summary}); err != nil {
		l.logger.Warn("summarize.store_failed", "session_id", sessionID, "error", err.Error())
	}
}

// ctxKind maps a dead turn context to a failure kind: deadline expiry is a
// TIMEOUT, caller cancellation is CANCELLED.
func (l *Loop) ctxKind(turnCtx, parent context.Context) core.ErrorKind {
	if errors.Is(turnCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return core.ErrorKindTimeout
	}
	return core.ErrorKindCancelled
}

// resolveSession loads the target session, creating one when id is empty.
func (l *Loop) resolveSession(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return l.store.CreateSession(ctx)
	}
	return l.store.GetSession(ctx, id)
}
