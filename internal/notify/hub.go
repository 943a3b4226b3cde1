// Package notify pushes suggestion events to frontends over server-sent
// events. Events travel through a Bus so that several plotline processes
// can share one Redis channel; each process forwards what it receives to
// the SSE clients it holds.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/plotline/internal/logging"
)

// EventType names an SSE event.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventSuggestionsChanged EventType = "suggestions.changed"
	EventNavigation         EventType = "navigation"
	EventDispatchCompleted  EventType = "dispatch.completed"
)

// Event is one message for the clients subscribed to Channel, which is a
// conversation session id.
type Event struct {
	Channel string    `json:"channel"`
	Type    EventType `json:"event"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// DefaultHeartbeat is how often an idle stream gets a keep-alive comment.
const DefaultHeartbeat = 15 * time.Second

// clientBuffer is the outbound queue length per client; events beyond it
// are dropped for that client.
const clientBuffer = 16

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Event
	done     chan struct{}
	once     sync.Once
}

// Hub tracks SSE clients by channel.
type Hub struct {
	mu            sync.RWMutex
	log           *logging.Logger
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
}

// NewHub returns an empty hub. heartbeat <= 0 means DefaultHeartbeat.
func NewHub(log *logging.Logger, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		log:           logging.OrNop(log).Named("sse"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     heartbeat,
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan Event, clientBuffer),
		done:     make(chan struct{}),
	}
}

// Subscribe adds client to channel. Blank channels are ignored.
func (h *Hub) Subscribe(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	client.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true
	h.log.Debug("sse client subscribed", "client", client.ID, "channel", channel)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range client.Channels {
		if subs, ok := h.subscriptions[ch]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Subscribers reports how many clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}

// Broadcast queues ev for every client of its channel without blocking.
func (h *Hub) Broadcast(ev Event) {
	if ev.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subscriptions[ev.Channel] {
		select {
		case c.Outbound <- ev:
		default:
			h.log.Warn("dropping sse event, client buffer full", "client", c.ID, "event", ev.Type)
		}
	}
}

// Serve streams client's events to w until the request ends or the
// client is closed. A "connected" event is written first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	channels := make([]string, 0, len(client.Channels))
	h.mu.RLock()
	for ch := range client.Channels {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()
	if err := writeEvent(w, Event{Type: EventConnected, Data: map[string]any{"client": client.ID.String(), "channels": channels}, At: time.Now().UTC()}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("sse client gone", "client", client.ID, "error", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-client.Outbound:
			if err := writeEvent(w, ev); err != nil {
				h.log.Warn("writing sse event failed", "client", client.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// Close unsubscribes client and stops its stream. Safe to call twice.
func (h *Hub) Close(client *Client) {
	client.once.Do(func() {
		close(client.done)
		h.removeClient(client)
	})
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
