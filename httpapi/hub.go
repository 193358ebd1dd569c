package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwielgat/agentd/dispatch"
	"github.com/mwielgat/agentd/logging"
)

const (
	clientSendBuffer = 32
	writeTimeout     = 10 * time.Second
)

// Hub bridges the dispatcher to websocket clients. It subscribes to session
// events and forwards each one to every client watching that session. Slow
// clients are disconnected rather than allowed to stall delivery.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}
	logger  *logging.AgentLogger
}

type wsClient struct {
	conn *websocket.Conn
	send chan dispatch.Event
	once sync.Once
}

// NewHub constructs a hub. Register it on the dispatcher with Subscribe.
func NewHub(l logging.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		logger:  logging.NewAgentLogger(l).WithComponent("hub"),
	}
}

// Name implements dispatch.Subscriber.
func (h *Hub) Name() string { return "websocket" }

// Handle implements dispatch.Subscriber: fan the event out to every client
// of the session without blocking on any of them.
func (h *Hub) Handle(_ context.Context, event dispatch.Event) error {
	h.mu.Lock()
	var stale []*wsClient
	for c := range h.clients[event.SessionID] {
		select {
		case c.send <- event:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.logger.Warn("hub.client_too_slow", "session_id", event.SessionID)
		h.drop(event.SessionID, c)
	}
	return nil
}

// serve pumps events to one connection until the client goes away. The read
// loop exists only to observe disconnects; inbound frames are discarded.
func (h *Hub) serve(sessionID string, conn *websocket.Conn) {
	client := &wsClient{
		conn: conn,
		send: make(chan dispatch.Event, clientSendBuffer),
	}

	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*wsClient]struct{})
	}
	h.clients[sessionID][client] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(sessionID, client)
				return
			}
		}
	}()

	for event := range client.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.drop(sessionID, client)
			return
		}
	}
}

func (h *Hub) drop(sessionID string, client *wsClient) {
	h.mu.Lock()
	if set, ok := h.clients[sessionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, sessionID)
		}
	}
	h.mu.Unlock()

	client.once.Do(func() {
		close(client.send)
		_ = client.conn.Close()
	})
}

func originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
