package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chronicler/internal/events"
)

// writeTimeout bounds a single websocket send; a stalled client is dropped
// rather than allowed to back up the broadcaster.
const writeTimeout = 5 * time.Second

// envelope is the wire format of the event stream: the bus routing key plus
// the event payload.
type envelope struct {
	Type    events.Type `json:"type"`
	Payload any         `json:"payload"`
}

// hub fans bus events out to connected websocket clients.
type hub struct {
	log *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// broadcast sends ev to every connected client. Clients that fail the write
// are closed and dropped; the REST endpoints remain the source of truth.
func (h *hub) broadcast(ev events.Event) {
	data, err := json.Marshal(envelope{Type: ev.EventType(), Payload: ev})
	if err != nil {
		h.log.Error("event stream marshal failed", "event", string(ev.EventType()), "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.remove(c)
			c.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// closeAll disconnects every client, for server shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// handleWS upgrades the request and streams events until the client goes
// away. The stream is write-only; client messages are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The admin surface binds to localhost; origin checks add nothing.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "")
}
