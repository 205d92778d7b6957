// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"signal-insights/internal/data"
)

// Message types pushed to dashboard clients.
const (
	TypeSnapshot = "snapshot"
	TypeAlert    = "alert"
	TypeHistory  = "history"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type outbound struct {
	sessionID string
	message   []byte
}

type registration struct {
	client  *Client
	initial []byte
}

// Hub maintains the set of active clients and routes messages to the clients
// watching a session.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan registration
	unregister chan *Client
	done       chan struct{}
	log        *slog.Logger
	mu         sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		broadcast:  make(chan outbound, 64),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client] = true
			h.mu.Unlock()
			if reg.initial != nil {
				reg.client.Send <- reg.initial
			}
			h.log.Debug("websocket client registered", "session", reg.client.SessionID, "remote", reg.client.remote())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("websocket client unregistered", "session", client.SessionID, "remote", client.remote())
			}
			h.mu.Unlock()

		case out := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.SessionID != out.sessionID {
					continue
				}
				select {
				case client.Send <- out.message:
				default:
					h.log.Warn("websocket client send buffer full, removing", "session", client.SessionID, "remote", client.remote())
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient adds client to the hub and queues history as its first
// message. It returns false once the hub has stopped.
func (h *Hub) RegisterClient(client *Client, history []*data.Snapshot) bool {
	var initial []byte
	if len(history) > 0 {
		initial = h.encode(Message{Type: TypeHistory, Payload: history})
	}
	select {
	case h.register <- registration{client: client, initial: initial}:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of clients watching sessionID.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.SessionID == sessionID {
			n++
		}
	}
	return n
}

// Publish pushes a refresh snapshot to the session's clients.
func (h *Hub) Publish(ctx context.Context, snap *data.Snapshot) {
	h.send(ctx, snap.SessionID, Message{Type: TypeSnapshot, Payload: snap})
}

// BroadcastAlert sends an alert to the clients of the alert's session.
func (h *Hub) BroadcastAlert(ctx context.Context, alert data.Alert) {
	h.send(ctx, alert.SessionID, Message{Type: TypeAlert, Payload: alert})
}

func (h *Hub) send(ctx context.Context, sessionID string, msg Message) {
	b := h.encode(msg)
	if b == nil {
		return
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, message: b}:
	case <-h.done:
	case <-ctx.Done():
	}
}

func (h *Hub) encode(msg Message) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encoding websocket message", "type", msg.Type, "error", err)
		return nil
	}
	return b
}
