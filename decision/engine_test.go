package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/tool"
)

func testEngine(p Provider, optFns ...func(o *Options)) *ProviderEngine {
	base := func(o *Options) { o.RetryDelay = time.Millisecond }
	return NewEngine(p, append([]func(o *Options){base}, optFns...)...)
}

func TestDecideFinalAnswer(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{Text: "hello there", FinishReason: "stop"})
	eng := testEngine(mock)

	d, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionFinalAnswer, d.Kind)
	assert.Equal(t, "hello there", d.Answer)
}

func TestDecideToolCallsWinOverText(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{
		Text: "let me check",
		Calls: []core.ToolCallRequest{
			{CallID: "call-1", Tool: "lookup", Arguments: `{"q":"x"}`},
			{Tool: "lookup"},
		},
	})
	eng := testEngine(mock)

	d, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.NoError(t, err)
	require.Equal(t, core.DecisionToolCalls, d.Kind)
	require.Len(t, d.Calls, 2)
	assert.Equal(t, "call-1", d.Calls[0].CallID)
	assert.NotEmpty(t, d.Calls[1].CallID, "missing call IDs are assigned")
	assert.Equal(t, "{}", d.Calls[1].Arguments, "missing arguments default to an empty object")
}

func TestDecideEmptyResponseAbstains(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{FinishReason: "content_filter"})
	eng := testEngine(mock)

	d, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionAbstain, d.Kind)
	assert.Contains(t, d.Reason, "content_filter")
}

func TestDecideBudgetExhaustedSkipsProvider(t *testing.T) {
	mock := NewMockProvider()
	eng := testEngine(mock)

	d, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionFinalAnswer, d.Kind)
	assert.Empty(t, mock.Requests(), "no provider call at zero budget")
}

func TestDecideLastStepNudge(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{Text: "done"})
	eng := testEngine(mock)

	_, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 1)
	require.NoError(t, err)
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "last step")
}

func TestDecideRetriesTransientErrors(t *testing.T) {
	mock := NewMockProvider().
		QueueError(Transient(errors.New("rate limited"))).
		QueueResponse(Response{Text: "recovered"})
	eng := testEngine(mock)

	d, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.NoError(t, err)
	assert.Equal(t, "recovered", d.Answer)
	assert.Len(t, mock.Requests(), 2)
}

func TestDecidePermanentErrorFailsFast(t *testing.T) {
	mock := NewMockProvider().QueueError(errors.New("invalid api key"))
	eng := testEngine(mock)

	_, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.Error(t, err)
	var dee *core.DecisionEngineError
	require.ErrorAs(t, err, &dee)
	assert.Equal(t, "mock", dee.Provider)
	assert.Len(t, mock.Requests(), 1, "permanent failures are not retried")
}

func TestDecideTransientExhaustion(t *testing.T) {
	mock := NewMockProvider().QueueError(Transient(errors.New("overloaded")))
	eng := testEngine(mock, func(o *Options) { o.MaxRetries = 2 })

	_, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	var dee *core.DecisionEngineError
	require.ErrorAs(t, err, &dee)
	assert.Len(t, mock.Requests(), 3)
}

func TestDecideMemoryFactsInInstructions(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{Text: "ok"})
	eng := testEngine(mock, func(o *Options) {
		o.Memory = func(context.Context) (map[string]string, error) {
			return map[string]string{"favorite_city": "Lisbon"}, nil
		}
	})

	_, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, nil, 8)
	require.NoError(t, err)
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "favorite_city: Lisbon")
}

func TestDecideToolDefinitionsForwarded(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{Text: "ok"})
	eng := testEngine(mock)

	descs := []tool.Descriptor{
		{Name: "lookup", Description: "Looks things up"},
	}
	_, err := eng.Decide(context.Background(), []core.Turn{core.NewUserTurn("hi")}, descs, 8)
	require.NoError(t, err)
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "lookup", reqs[0].Tools[0].Name)
	assert.NotNil(t, reqs[0].Tools[0].Parameters, "nil schemas are replaced with an empty object schema")
}

func TestSummarizer(t *testing.T) {
	mock := NewMockProvider().QueueResponse(Response{Text: "  user asked about weather  "})
	s := NewSummarizer(mock)

	turns := []core.Turn{
		core.NewUserTurn("what is the weather"),
		core.NewToolTurn(core.ToolCallResult{
			CallID: "c1", Tool: "get_weather_forecast",
			Outcome: core.OutcomeSuccess, Payload: "Sunny +25C",
		}),
		core.NewAgentTurn("It is sunny."),
	}
	summary, err := s.Summarize(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, "user asked about weather", summary)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Turns, 1)
	assert.Contains(t, reqs[0].Turns[0].Content, "get_weather_forecast")

	empty, err := s.Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
