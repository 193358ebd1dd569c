// Package core defines the shared domain types of agentd: sessions, turns,
// tool call requests/results, agent decisions and the error taxonomy used
// across the memory store, the tool invoker and the orchestration loop.
//
// Types in this package are plain data carriers. Behavior (persistence,
// execution, decision making) lives in the packages that consume them.
package core
