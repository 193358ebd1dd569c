package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/internal/util"
)

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := util.CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")

	req, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"a"}, req)
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// []any mirrors the shape of a schema decoded from JSON
		"required": []any{"x"},
	}

	assert.NoError(t, util.ValidateParameters(map[string]any{"x": 5}, schema))

	err := util.ValidateParameters(map[string]any{}, schema)
	var vErr *util.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = util.ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")
}

func sumTool() *FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
	return NewFunctionTool("sum", "Add numbers", params, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionToolCall(t *testing.T) {
	result, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionToolWrapsErrors(t *testing.T) {
	failing := NewFunctionTool("boom", "Always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("kaput")
		})

	_, err := failing.Call(context.Background(), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "boom", toolErr.Tool)
}

func TestFunctionToolOptions(t *testing.T) {
	ft := NewFunctionTool("writer", "Writes things", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return "ok", nil },
		func(o *FunctionToolOptions) {
			o.Classification = Mutating
			o.Timeout = 3 * time.Second
			o.Retry = RetryPolicy{MaxAttempts: 1, Idempotent: true}
		})

	d := ft.Descriptor()
	assert.Equal(t, Mutating, d.Classification)
	assert.Equal(t, 3*time.Second, d.Timeout)
	assert.Equal(t, 1, d.Retry.MaxAttempts)
	assert.True(t, d.Retry.Idempotent)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))

	err := r.Register(sumTool())
	var dup *DuplicateToolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "sum", dup.Name)

	resolved, err := r.Resolve("sum")
	require.NoError(t, err)
	assert.Equal(t, "sum", resolved.Descriptor().Name)

	_, err = r.Resolve("nope")
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)

	assert.Len(t, r.Descriptors(), 1)
	assert.Equal(t, 1, r.Len())
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 80 * time.Millisecond}
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
