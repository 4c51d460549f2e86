package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"consultscribe/internal/domain"
	"consultscribe/internal/events"
)

const (
	clientBuffer = 32
	writeTimeout = 10 * time.Second
)

// Hub pushes state changes to websocket subscribers. It implements ports.EventSink.
// A subscriber that cannot keep up is disconnected instead of blocking the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub accepts websocket clients from the server's own origin plus allowedOrigins.
// "*" admits any origin.
func NewHub(allowedOrigins ...string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		now:     time.Now,
		clients: make(map[*subscriber]struct{}),
	}
}

// checkOrigin returns nil for an empty list, which keeps the upgrader's same-origin check.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(strings.TrimSuffix(candidate, "/"), origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (h *Hub) SegmentChanged(segment domain.TranscriptionSegment) {
	h.broadcast(events.SegmentEvent(segment, h.now()))
}

func (h *Hub) ConsultationChanged(consultation domain.Consultation, change domain.ConsultationEvent) {
	h.broadcast(events.ConsultationEvent(consultation, change, h.now()))
}

// Subscribers reports how many websocket clients are connected.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
	}
}

func (h *Hub) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade failed: %v", err)
		return
	}

	client := &subscriber{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go client.writeLoop()
	client.readLoop()
	h.unregister(client)
}

func (h *Hub) register(client *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *Hub) unregister(client *subscriber) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *Hub) broadcast(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[httpapi] failed to encode %s event: %v", event.Name, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			log.Printf("[httpapi] dropping slow subscriber %s", client.conn.RemoteAddr())
			delete(h.clients, client)
			client.close()
		}
	}
}

// readLoop discards inbound frames and returns when the peer goes away.
func (s *subscriber) readLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	for payload := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = s.conn.Close()
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}
