package progress

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub broadcasts progress events to connected websocket clients. Slow
// clients are dropped rather than allowed to stall a run.
type Hub struct {
	log *logrus.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Register adds a client and starts its writer goroutine. The connection is
// closed and removed when the writer exits.
func (h *Hub) Register(conn *websocket.Conn) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	h.clients[conn] = ch
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Debug("Progress client connected")

	go func() {
		defer h.remove(conn)
		for event := range ch {
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Debug("Progress client write failed")
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// Publish implements Observer. Events to clients with full buffers are
// dropped.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
		conn.Close()
	}
}
