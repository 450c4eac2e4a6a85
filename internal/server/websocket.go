package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/pkg/types"
)

// Event is one message on the live feed. Clients use Type to dispatch:
// "person_created", "persons_merged", or "embedding_stored".
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// EventHub fans engine events out to connected WebSocket clients.
type EventHub struct {
	clients    map[*hubClient]bool
	broadcast  chan Event
	register   chan *hubClient
	unregister chan *hubClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type hubClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates a hub. Call Run in a goroutine and Stop on shutdown.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Event feed client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Event feed client disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("ERROR: failed to marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client; drop it rather than block the feed.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			log.Println("Event hub stopping...")
			return
		}
	}
}

// Stop shuts down the hub and disconnects all clients.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for all connected clients; a full queue drops
// the event rather than blocking the engine.
func (h *EventHub) Broadcast(eventType string, payload interface{}) {
	event := Event{Type: eventType, Payload: payload, At: time.Now().UTC()}
	select {
	case h.broadcast <- event:
	default:
		log.Println("WARNING: event broadcast channel full, dropping event")
	}
}

// PersonCreated is the engine callback for new persons.
func (h *EventHub) PersonCreated(p *types.Person) {
	h.Broadcast("person_created", p)
}

// PersonsMerged is the engine callback for completed merges.
func (h *EventHub) PersonsMerged(report *storage.MergeReport) {
	h.Broadcast("persons_merged", report)
}

// EmbeddingStored is the engine callback for freshly embedded interactions.
func (h *EventHub) EmbeddingStored(interactionID string) {
	h.Broadcast("embedding_stored", map[string]string{"interaction_id": interactionID})
}

// ServeHTTP handles WebSocket upgrade requests on /api/events.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *hubClient) writePump() {
	defer func() {
		c.unregisterSelf()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// unregisterSelf hands the client back to the hub. Once the hub has
// stopped nobody drains the unregister channel, so the send races the
// hub's context to avoid stranding pump goroutines at shutdown.
func (c *hubClient) unregisterSelf() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
}

// readPump drains client messages to detect disconnection; the feed is
// one-way.
func (c *hubClient) readPump() {
	defer func() {
		c.unregisterSelf()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
