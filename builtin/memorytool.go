package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/memory"
	"github.com/mwielgat/agentd/tool"
)

// NewSaveMemoryTool builds the save_memory tool. It stores a named fact in
// the working memory of the session that issued the call; the session
// identity travels on the invocation context.
func NewSaveMemoryTool(store memory.Store) tool.Tool {
	return tool.NewFunctionTool(
		"save_memory",
		"Remember a fact about the user or conversation for later turns. Stores a key/value pair in session memory.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Short snake_case name for the fact, e.g. favorite_city",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "The fact to remember",
				},
			},
			"required": []string{"key", "value"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			value, _ := args["value"].(string)
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("key must not be empty")
			}

			sessionID, ok := core.SessionIDFromContext(ctx)
			if !ok {
				return nil, fmt.Errorf("no session attached to this call")
			}
			if err := store.PutState(ctx, sessionID, map[string]string{key: value}); err != nil {
				return nil, err
			}
			return map[string]any{
				"saved": true,
				"key":   key,
			}, nil
		},
		func(o *tool.FunctionToolOptions) {
			o.Classification = tool.Mutating
			o.Retry = tool.RetryPolicy{MaxAttempts: 3, Idempotent: true}
		},
	)
}
