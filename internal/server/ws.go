package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"infodigest/internal/logger"
)

const (
	// wsReadTimeout is how long a client may stay silent. Pongs refresh it.
	wsReadTimeout = 30 * time.Second
	// wsPingInterval keeps connections alive through proxies.
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS allowlist upstream; the upgrade itself
	// accepts any origin so non-browser clients work.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans messages out to a bounded set of websocket clients. It also
// implements io.Writer so it can serve as a log sink.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan []byte
	maxConns int
}

// NewHub builds a hub capped at maxConns concurrent clients.
func NewHub(maxConns int) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte), maxConns: maxConns}
}

// Write broadcasts a log line to all clients. It never blocks and never
// fails; overloaded clients drop messages.
func (h *Hub) Write(p []byte) (int, error) {
	// The zerolog writer reuses its buffer; copy before handing off.
	msg := make([]byte, len(p))
	copy(msg, p)
	h.Broadcast(msg)
	return len(p), nil
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve upgrades the request and pumps messages to the client until it
// disconnects or the connection cap is reached.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// Reader drains control frames and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	s.logsHub.serve(w, r)
}

func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	s.progressHub.serve(w, r)
}
