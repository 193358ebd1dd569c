package tool

import (
	"context"
	"time"

	"github.com/mwielgat/agentd/internal/util"
)

// FunctionToolOptions configure a FunctionTool beyond name, description and
// input schema. Use functional options with NewFunctionTool to override the
// READ_ONLY / default-timeout / default-retry baseline.
type FunctionToolOptions struct {
	Classification Classification
	Timeout        time.Duration
	Retry          RetryPolicy
	OutputSchema   map[string]any
}

// FunctionTool is a generic adapter that exposes a plain Go function as an
// agentd tool.
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use by multiple goroutines. The parameters map follows the
// minimal JSON Schema shape validated by util.ValidateParameters (type,
// properties, required).
type FunctionTool struct {
	descriptor Descriptor
	fn         func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{
		Classification: ReadOnly,
		Timeout:        15 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &FunctionTool{
		descriptor: Descriptor{
			Name:           name,
			Description:    description,
			InputSchema:    parameters,
			OutputSchema:   opts.OutputSchema,
			Classification: opts.Classification,
			Timeout:        opts.Timeout,
			Retry:          opts.Retry.normalized(),
		},
		fn: fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection, equivalent to util.CreateSchema(structType).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn, optFns...)
}

// Descriptor returns the tool's static metadata.
func (t *FunctionTool) Descriptor() Descriptor { return t.descriptor }

// Call invokes the wrapped function. Errors are wrapped as *ToolError with
// code EXECUTION_ERROR unless the function already returned a *ToolError.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{
			Tool:    t.descriptor.Name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}
	return result, nil
}
