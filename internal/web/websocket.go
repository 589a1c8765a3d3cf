package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// The dashboard is same-origin in practice but may be served through a
// reverse proxy, so origin checking is left to the auth middleware.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is a WebSocket frame: the originating event stream subject plus
// the decoded payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans swarm events out to every connected dashboard. A slow or
// dead client is dropped rather than allowed to stall the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	events  chan Event
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		events:  make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.events:
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("marshal websocket event", "type", event.Type, "error", err)
				continue
			}
			h.send(data)
		}
	}
}

func (h *Hub) send(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Broadcast queues an event for delivery. It never blocks; when the
// queue is full the event is dropped, the dashboard is a live view and
// can tolerate gaps.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.events <- event:
	default:
		slog.Warn("websocket event queue full, dropping", "type", event.Type)
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Dashboards only listen. The read loop exists to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
