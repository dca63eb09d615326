package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventChatCreated EventType = "chat_created"
	EventChatMessage EventType = "chat_message"
	EventHeartbeat   EventType = "heartbeat"
)

// Event is one notification for connected clients. Recipients lists the
// profile ids that receive it; an empty list reaches every client.
type Event struct {
	Type       EventType `json:"type"`
	Data       any       `json:"data"`
	Recipients []int64   `json:"-"`
}

func (e Event) deliversTo(profileID int64) bool {
	return len(e.Recipients) == 0 || slices.Contains(e.Recipients, profileID)
}

// Client is one open event stream of a profile
type Client struct {
	ID        string
	ProfileID int64
	Messages  chan []byte
}

// Broker fans events out to the streams of their recipients
type Broker struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once
	heartbeat  time.Duration
	mu         sync.RWMutex
}

// NewBroker creates a broker and starts its dispatch loop
func NewBroker() *Broker {
	return newBroker(30 * time.Second)
}

func newBroker(heartbeat time.Duration) *Broker {
	b := &Broker{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 100),
		done:       make(chan struct{}),
		heartbeat:  heartbeat,
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	heartbeatTicker := time.NewTicker(b.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, client := range b.clients {
				close(client.Messages)
			}
			b.clients = make(map[string]*Client)
			b.mu.Unlock()
			log.Debug().Msg("Event broker stopped")
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client.ID] = client
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int64("profile_id", client.ProfileID).Int("total_clients", total).Msg("Event stream opened")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client.ID]; ok {
				delete(b.clients, client.ID)
				close(client.Messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Int("total_clients", total).Msg("Event stream closed")

		case event := <-b.broadcast:
			b.dispatch(event)

		case <-heartbeatTicker.C:
			b.dispatch(Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

func (b *Broker) dispatch(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event")
		return
	}
	message := formatSSEMessage(string(event.Type), data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		if !event.deliversTo(client.ProfileID) {
			continue
		}
		select {
		case client.Messages <- message:
		default:
			log.Warn().Str("client_id", client.ID).Msg("Event stream buffer full, dropping message")
		}
	}
}

// Broadcast queues an event. It never blocks; when the queue is full the
// event is dropped.
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("Event queue full, dropping event")
	}
}

// Stop closes every stream and ends the dispatch loop
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Serve streams the events of profileID until the client goes away or the
// broker stops.
func (b *Broker) Serve(w http.ResponseWriter, r *http.Request, profileID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &Client{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Messages:  make(chan []byte, 32),
	}
	select {
	case b.register <- client:
	case <-b.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case b.unregister <- client:
		case <-b.done:
		}
	}()

	data, _ := json.Marshal(Event{Type: "connected", Data: map[string]any{"client_id": client.ID}})
	_, _ = w.Write(formatSSEMessage("connected", data))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of open streams
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func formatSSEMessage(eventType string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data)
}
