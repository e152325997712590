package notify

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// session is the slice of a websocket connection the hub needs. Tests swap
// in fakes.
type session interface {
	Send(v any) error
	Close() error
}

type wsSession struct {
	conn *websocket.Conn
}

func (s *wsSession) Send(v any) error { return websocket.JSON.Send(s.conn, v) }
func (s *wsSession) Close() error     { return s.conn.Close() }

// Hub is the live-notification registry: at most one connected session per
// user id. A newer connection for the same user replaces the older one. The
// map only guards connection bookkeeping; it is not part of any ledger
// atomicity.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int]session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[int]session)}
}

// Register attaches a session for a user, closing any previous one.
func (h *Hub) Register(userID int, s session) {
	h.mu.Lock()
	prev := h.sessions[userID]
	h.sessions[userID] = s
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	log.Printf("[NOTIFY] Client connected for userId: %d", userID)
}

// Unregister detaches a session if it is still the current one for the user.
func (h *Hub) Unregister(userID int, s session) {
	h.mu.Lock()
	if h.sessions[userID] == s {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()
	log.Printf("[NOTIFY] Client disconnected for userId: %d", userID)
}

// Publish pushes an event to the user's session if one is connected.
// Fire-and-forget: a send failure drops the session and is only logged.
func (h *Hub) Publish(userID int, event Event) {
	h.mu.RLock()
	s := h.sessions[userID]
	h.mu.RUnlock()

	if s == nil {
		log.Printf("[NOTIFY] No client connected for userId: %d", userID)
		return
	}
	if err := s.Send(event); err != nil {
		log.Printf("[NOTIFY] Failed to send %s to userId %d: %v", event.Type, userID, err)
		h.Unregister(userID, s)
		s.Close()
	}
}

// Connected reports whether a session is registered for the user.
func (h *Hub) Connected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[userID] != nil
}

// Handler serves the /ws endpoint. Clients connect with ?userId=<id>; the
// hub greets them with a CONNECTED event and keeps the connection open until
// the client goes away.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		req := conn.Request()
		userID, err := strconv.Atoi(req.URL.Query().Get("userId"))
		if err != nil || userID <= 0 {
			log.Printf("[NOTIFY] Rejecting connection with invalid userId from %s", req.RemoteAddr)
			conn.Close()
			return
		}

		s := &wsSession{conn: conn}
		h.Register(userID, s)
		defer h.Unregister(userID, s)

		if err := s.Send(NewEvent(EventConnected, userID, nil)); err != nil {
			log.Printf("[NOTIFY] Failed to send greeting to userId %d: %v", userID, err)
			return
		}

		// Drain inbound frames until the client disconnects. Clients do not
		// speak; the read only detects closure.
		for {
			var discard string
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	})
}

// Run pings every connected session periodically so half-open connections
// get reaped. Blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			stale := make(map[int]session)
			for userID, s := range h.sessions {
				if err := s.Send(map[string]string{"type": "PING"}); err != nil {
					stale[userID] = s
				}
			}
			h.mu.RUnlock()

			for userID, s := range stale {
				h.Unregister(userID, s)
				s.Close()
			}
		}
	}
}
