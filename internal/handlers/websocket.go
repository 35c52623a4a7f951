package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsEvent is the frame pushed to connected clients
type wsEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// WebSocketHandler streams job and batch lifecycle events to connected
// clients. Slow clients get dropped rather than backing up the bus.
type WebSocketHandler struct {
	events interfaces.EventService
	logger arbor.ILogger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wsEvent
}

// NewWebSocketHandler creates the event stream handler and hooks it to
// the event bus
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		events:  events,
		logger:  logger,
		clients: make(map[*websocket.Conn]chan wsEvent),
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobStatusChanged,
		interfaces.EventBatchUpdated,
	} {
		if err := events.Subscribe(eventType, h.onEvent); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// onEvent fans an event out to every connected client
func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	frame := wsEvent{
		Type:      string(event.Type),
		Timestamp: time.Now(),
		Payload:   event.Payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- frame:
		default:
			// Client is not keeping up; drop it
			h.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("Dropping slow WebSocket client")
			close(ch)
			delete(h.clients, conn)
			conn.Close()
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ch := make(chan wsEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client connected")

	// Reader goroutine: drain control frames and detect disconnect
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for frame := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *WebSocketHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
		conn.Close()
		h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client disconnected")
	}
}

// Close disconnects all clients
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
		delete(h.clients, conn)
	}
}
