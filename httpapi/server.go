// Package httpapi exposes the agent over HTTP: a message endpoint driving
// the orchestration loop, a session history endpoint, a websocket event
// stream, and a health probe. Handlers parse and validate, then delegate;
// no loop semantics live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/memory"
	"github.com/mwielgat/agentd/orchestrator"
)

const maxMessageBytes int64 = 1 << 20

// Options configure the HTTP server.
type Options struct {
	// Hub, when set, feeds the websocket event stream.
	Hub *Hub
	// Logger receives request telemetry.
	Logger logging.Logger
}

type server struct {
	loop    *orchestrator.Loop
	store   memory.Store
	hub     *Hub
	logger  *logging.AgentLogger
	started time.Time
}

// NewServer builds the http.Server for the given loop and store.
func NewServer(addr string, loop *orchestrator.Loop, store memory.Store, optFns ...func(o *Options)) *http.Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &server{
		loop:    loop,
		store:   store,
		hub:     opts.Hub,
		logger:  logging.NewAgentLogger(opts.Logger).WithComponent("httpapi"),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.CountSessions(r.Context())
	if err != nil {
		s.logger.Warn("healthz.count_sessions.failed", "error", err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"uptime_sec": int(time.Since(s.started).Seconds()),
		"sessions":   sessions,
	})
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type messageResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer,omitempty"`
	Status    string `json:"status"`
}

type errorResponse struct {
	SessionID string `json:"session_id,omitempty"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req messageRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", core.ErrorKindInternal, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, req.SessionID, core.ErrorKindInternal, "message is required")
		return
	}

	res, err := s.loop.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeLoopError(w, req.SessionID, err)
		return
	}
	if res.ErrorKind != "" {
		writeError(w, statusFromKind(res.ErrorKind), res.SessionID, res.ErrorKind, res.ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		SessionID: res.SessionID,
		Answer:    res.Answer,
		Status:    string(res.Status),
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeLoopError(w, sessionID, err)
		return
	}
	turns, err := s.store.GetHistory(r.Context(), sessionID, 0)
	if err != nil {
		s.writeLoopError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     string(session.Status),
		"turns":      turns,
	})
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event streaming not configured", http.StatusNotImplemented)
		return
	}
	sessionID := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		s.writeLoopError(w, sessionID, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: originAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("events.upgrade_failed", "error", err.Error())
		return
	}
	s.hub.serve(sessionID, conn)
}

// writeLoopError maps infrastructure errors onto transport status codes.
func (s *server) writeLoopError(w http.ResponseWriter, sessionID string, err error) {
	var storageErr *memory.StorageError
	switch {
	case errors.Is(err, memory.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, sessionID, core.ErrorKindInternal, "session not found")
	case errors.As(err, &storageErr):
		writeError(w, http.StatusServiceUnavailable, sessionID, core.ErrorKindStorage, err.Error())
	default:
		s.logger.Error("request.failed", "session_id", sessionID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, sessionID, core.ErrorKindInternal, "internal error")
	}
}

// statusFromKind maps agent-level failure kinds onto HTTP status codes.
func statusFromKind(kind core.ErrorKind) int {
	switch kind {
	case core.ErrorKindSessionNotActive:
		return http.StatusConflict
	case core.ErrorKindAbstained, core.ErrorKindBudgetExhausted:
		return http.StatusUnprocessableEntity
	case core.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case core.ErrorKindDecisionEngine:
		return http.StatusBadGateway
	case core.ErrorKindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, sessionID string, kind core.ErrorKind, msg string) {
	writeJSON(w, status, errorResponse{
		SessionID: sessionID,
		ErrorKind: string(kind),
		Error:     msg,
	})
}
