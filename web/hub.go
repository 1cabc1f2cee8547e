package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"babble.town/caption"
)

const viewerQueueSize = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub delivers published captions to websocket viewers. It implements
// caption.Publisher; a viewer that cannot keep up is dropped rather than
// stalling the captioning path.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	viewers map[*viewer]struct{}
}

type viewer struct {
	conn *websocket.Conn
	send chan caption.Caption
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:  logger,
		viewers: make(map[*viewer]struct{}),
	}
}

func (h *Hub) Publish(_ context.Context, c caption.Caption) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for v := range h.viewers {
		select {
		case v.send <- c:
		default:
			h.logger.Warn("viewer too slow, dropping connection")
			delete(h.viewers, v)
			close(v.send)
		}
	}
	return nil
}

// ServeWS upgrades the request and streams captions until the viewer
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	v := &viewer{
		conn: conn,
		send: make(chan caption.Caption, viewerQueueSize),
	}

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("viewer connected", "remote", conn.RemoteAddr())

	go h.writePump(v)
	h.readPump(v)
}

func (h *Hub) writePump(v *viewer) {
	for c := range v.send {
		if err := v.conn.WriteJSON(c); err != nil {
			h.logger.Debug("viewer write failed", "error", err)
			h.drop(v)
			return
		}
	}
	v.conn.Close()
}

// readPump discards inbound messages; its job is noticing disconnects.
func (h *Hub) readPump(v *viewer) {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			h.drop(v)
			return
		}
	}
}

func (h *Hub) drop(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)
	}
	h.mu.Unlock()
	v.conn.Close()
}
