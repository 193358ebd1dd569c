package invoker

import (
	"context"
	"sync"

	"github.com/mwielgat/agentd/core"
)

// InvokeAll executes a decision's tool-call set concurrently, bounded by the
// configured parallelism. Results are handed to emit in completion order,
// not request order; emit is serialized and always called exactly once per
// request. InvokeAll returns once every call has completed (success, failure
// or timeout all count).
func (inv *Invoker) InvokeAll(ctx context.Context, reqs []core.ToolCallRequest, emit func(core.ToolCallResult) error) {
	n := len(reqs)
	if n == 0 {
		return
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		inv.emitResult(reqs[0], inv.Invoke(ctx, reqs[0]), emit)
		return
	}

	maxPar := inv.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var (
		mu sync.Mutex // serializes emit
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, maxPar)

	for i := range reqs {
		if ctx.Err() != nil {
			// Turn cancelled; synthesize results for calls never dispatched.
			// Workers may still be draining, so this emit takes mu too.
			req := reqs[i]
			mu.Lock()
			inv.emitResult(req, failure(req, core.ErrorKindCancelled, ctx.Err().Error(), 0), emit)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(req core.ToolCallRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			res := inv.Invoke(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			inv.emitResult(req, res, emit)
		}(reqs[i])
	}

	wg.Wait()
}

func (inv *Invoker) emitResult(req core.ToolCallRequest, res core.ToolCallResult, emit func(core.ToolCallResult) error) {
	if err := emit(res); err != nil {
		inv.logger.Error("tool.invoke.emit_failed", "tool", req.Tool, "call_id", req.CallID, "error", err.Error())
	}
}
