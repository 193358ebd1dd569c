package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/dispatch"
	"github.com/mwielgat/agentd/invoker"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/memory"
	"github.com/mwielgat/agentd/orchestrator"
	"github.com/mwielgat/agentd/tool"
)

type scriptedEngine struct {
	mu        sync.Mutex
	decisions []core.AgentDecision
	calls     int
}

func (e *scriptedEngine) Decide(
	_ context.Context,
	_ []core.Turn,
	_ []tool.Descriptor,
	_ int,
) (core.AgentDecision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.calls
	e.calls++
	if idx >= len(e.decisions) {
		idx = len(e.decisions) - 1
	}
	return e.decisions[idx], nil
}

type testEnv struct {
	srv        *httptest.Server
	store      memory.Store
	dispatcher *dispatch.Dispatcher
}

func newTestEnv(t *testing.T, engine *scriptedEngine) *testEnv {
	t.Helper()
	store := memory.NewInMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	registry := tool.NewRegistry()
	inv := invoker.New(registry)

	dispatcher := dispatch.New()
	hub := NewHub(logging.NoOpLogger{})
	dispatcher.Subscribe(hub)

	loop := orchestrator.New(store, engine, inv, registry, func(o *orchestrator.Options) {
		o.Dispatcher = dispatcher
	})

	httpSrv := NewServer(":0", loop, store, func(o *Options) { o.Hub = hub })
	srv := httptest.NewServer(httpSrv.Handler)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, dispatcher: dispatcher}
}

func postMessage(t *testing.T, env *testEnv, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(env.srv.URL+"/v1/messages", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("4")}})

	resp, body := postMessage(t, env, `{"message": "what is 2+2"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", body["answer"])
	assert.Equal(t, "COMPLETED", body["status"])
	assert.NotEmpty(t, body["session_id"])
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("ok")}})

	resp, _ := postMessage(t, env, `{"message": ""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postMessage(t, env, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postMessage(t, env, `{"message": "hi", "unknown_field": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostMessageUnknownSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("ok")}})

	resp, body := postMessage(t, env, `{"session_id": "ghost", "message": "hi"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ghost", body["session_id"])
}

func TestPostMessageTerminalSessionConflict(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("done")}})

	resp, body := postMessage(t, env, `{"message": "first"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := body["session_id"].(string)

	resp, body = postMessage(t, env, `{"session_id": "`+sessionID+`", "message": "second"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(core.ErrorKindSessionNotActive), body["error_kind"])
}

func TestPostMessageAbstain(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.Abstain("cannot help")}})

	resp, body := postMessage(t, env, `{"message": "impossible"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(core.ErrorKindAbstained), body["error_kind"])
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("42")}})

	_, body := postMessage(t, env, `{"message": "what is the answer"}`)
	sessionID := body["session_id"].(string)

	resp, err := http.Get(env.srv.URL + "/v1/sessions/" + sessionID + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		SessionID string      `json:"session_id"`
		Status    string      `json:"status"`
		Turns     []core.Turn `json:"turns"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Equal(t, "COMPLETED", history.Status)
	require.Len(t, history.Turns, 2)
	assert.Equal(t, core.RoleUser, history.Turns[0].Role)
	assert.Equal(t, core.RoleAgent, history.Turns[1].Role)
}

func TestGetHistoryUnknownSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("ok")}})

	resp, err := http.Get(env.srv.URL + "/v1/sessions/ghost/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("ok")}})

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("hello")}})

	session, err := env.store.CreateSession(context.Background())
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/sessions/" + session.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Registration happens in the handler after the handshake returns.
	time.Sleep(50 * time.Millisecond)

	env.dispatcher.TurnAppended(context.Background(), session.ID, core.NewUserTurn("hi"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event dispatch.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, dispatch.EventTurnAppended, event.Type)
	assert.Equal(t, session.ID, event.SessionID)
	require.NotNil(t, event.Turn)
	assert.Equal(t, "hi", event.Turn.Content)
}

func TestEventStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{decisions: []core.AgentDecision{core.FinalAnswer("ok")}})

	resp, err := http.Get(env.srv.URL + "/v1/sessions/ghost/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
