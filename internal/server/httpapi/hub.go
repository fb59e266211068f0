package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/peerassess/fieldsync/internal/logging"
)

// changeNote is the wire shape pushed to subscribed clients when a record
// changes server-side.
type changeNote struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Hub fans record-change notifications out to connected websocket clients.
// A slow client drops messages rather than blocking the broadcaster.
type Hub struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan changeNote
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]chan changeNote),
	}
}

// Broadcast queues a change notification for every connected client.
func (h *Hub) Broadcast(kind, id string) {
	note := changeNote{Kind: kind, ID: id}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- note:
		default:
		}
	}
}

// HandleNotify upgrades the request to a websocket and streams change
// notifications until the client disconnects.
func (h *Hub) HandleNotify(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan changeNote, 32)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(r.Context(), conn, ch)

	// drain (and ignore) client frames so pings and closes are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, ch chan changeNote) {
	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(note)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(conn)
				return
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.conns[conn]
	if ok {
		delete(h.conns, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
