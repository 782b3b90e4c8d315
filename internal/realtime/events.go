// file: internal/realtime/events.go
// version: 2.0.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventRecordAdded   EventType = "record.added"
	EventRecordUpdated EventType = "record.updated"
	EventRecordRemoved EventType = "record.removed"
	EventSyncProgress  EventType = "sync.progress"
	EventSyncPass      EventType = "sync.pass"
	EventSyncStatus    EventType = "sync.status"
	EventSystemStatus  EventType = "system.status"
	EventOperation     EventType = "operation.status"
)

// Event represents a real-time event to send to clients
type Event struct {
	Type      EventType              `json:"type"`
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// IsRecordChange reports whether the event is a record change notification.
func (e *Event) IsRecordChange() bool {
	switch e.Type {
	case EventRecordAdded, EventRecordUpdated, EventRecordRemoved:
		return true
	}
	return false
}

// Ref extracts the record ref carried by a record change event.
func (e *Event) Ref() (models.RecordRef, bool) {
	ref, ok := e.Data["ref"].(models.RecordRef)
	return ref, ok
}

// Client represents a connected SSE client. SSE clients are best-effort:
// a slow browser drops events rather than stalling the hub.
type Client struct {
	ID        string
	Channel   chan *Event
	Providers map[string]bool // Providers this client is interested in
	mu        sync.RWMutex
}

// NewClient creates a new SSE client
func NewClient(id string) *Client {
	return &Client{
		ID:        id,
		Channel:   make(chan *Event, 100),
		Providers: make(map[string]bool),
	}
}

// Subscribe subscribes the client to a provider
func (c *Client) Subscribe(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Providers[providerID] = true
}

// Unsubscribe unsubscribes the client from a provider
func (c *Client) Unsubscribe(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Providers, providerID)
}

// wants checks whether the client should see events for id
func (c *Client) wants(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return id == "" || len(c.Providers) == 0 || c.Providers[id]
}

// Subscription is an in-process consumer of the hub. Its queue is
// unbounded, so Broadcast never blocks and never drops for subscribers.
type Subscription struct {
	ID     string
	types  map[EventType]bool
	out    chan *Event
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  []*Event
	closed bool
}

func newSubscription(id string, types []EventType) *Subscription {
	s := &Subscription{
		ID:     id,
		types:  make(map[EventType]bool, len(types)),
		out:    make(chan *Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, t := range types {
		s.types[t] = true
	}
	go s.pump()
	return s
}

// Events returns the delivery channel. It is closed after Unsubscribe.
func (s *Subscription) Events() <-chan *Event {
	return s.out
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) accepts(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

func (s *Subscription) push(event *Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}

// EventHub manages SSE connections, in-process subscriptions and event distribution
type EventHub struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	subscriptions map[string]*Subscription
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients:       make(map[string]*Client),
		subscriptions: make(map[string]*Subscription),
	}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	log.Printf("[DEBUG] SSE client %s registered, total clients: %d", client.ID, len(h.clients))
}

// UnregisterClient removes a client
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		log.Printf("[DEBUG] SSE client %s unregistered, remaining clients: %d", clientID, len(h.clients))
	}
}

// Subscribe attaches an in-process consumer. With no types given it
// receives every event.
func (h *EventHub) Subscribe(id string, types ...EventType) *Subscription {
	sub := newSubscription(id, types)
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, exists := h.subscriptions[id]; exists {
		old.close()
	}
	h.subscriptions[id] = sub
	return sub
}

// Unsubscribe detaches an in-process consumer and closes its channel.
func (h *EventHub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if current, exists := h.subscriptions[sub.ID]; exists && current == sub {
		delete(h.subscriptions, sub.ID)
	}
	h.mu.Unlock()
	sub.close()
}

// Broadcast sends an event to every subscription and every interested client
func (h *EventHub) Broadcast(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if sub.accepts(event.Type) {
			sub.push(event)
		}
	}

	for _, client := range h.clients {
		if client.wants(event.ID) {
			select {
			case client.Channel <- event:
			default:
				log.Printf("[WARN] SSE client %s channel full, dropping event", client.ID)
			}
		}
	}
}

// PublishRecordChange announces that a committed record was added, updated or removed.
func (h *EventHub) PublishRecordChange(eventType EventType, ref models.RecordRef) {
	h.Broadcast(&Event{
		Type:      eventType,
		ID:        ref.Provider,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"ref":       ref,
			"provider":  ref.Provider,
			"remote_id": ref.RemoteID,
		},
	})
}

// SendSyncProgress sends a page-level progress event for a running pass
func (h *EventHub) SendSyncProgress(providerID, passID string, pages int, message string) {
	h.Broadcast(&Event{
		Type:      EventSyncProgress,
		ID:        providerID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"provider": providerID,
			"pass_id":  passID,
			"pages":    pages,
			"message":  message,
		},
	})
}

// SendSyncPass sends the summary of a finished pass
func (h *EventHub) SendSyncPass(providerID string, result map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      EventSyncPass,
		ID:        providerID,
		Timestamp: time.Now(),
		Data:      result,
	})
}

// SendSyncStatus sends a provider state change event
func (h *EventHub) SendSyncStatus(providerID, state string, details map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      EventSyncStatus,
		ID:        providerID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"provider": providerID,
			"state":    state,
			"details":  details,
		},
	})
}

// SendOperationStatus sends a worker-pool operation state change
func (h *EventHub) SendOperationStatus(operationID, status string, details map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      EventOperation,
		ID:        operationID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"operation_id": operationID,
			"status":       status,
			"details":      details,
		},
	})
}

// SendSystemStatus sends a system status event
func (h *EventHub) SendSystemStatus(data map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      EventSystemStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// GetClientCount returns the number of connected clients
func (h *EventHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches every subscription.
func (h *EventHub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[string]*Subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// HandleSSE handles Server-Sent Events connection
func (h *EventHub) HandleSSE(c *gin.Context) {
	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("X-Accel-Buffering", "no")

	clientID := fmt.Sprintf("client-%d", time.Now().UnixNano())
	client := NewClient(clientID)

	if providerID := c.Query("provider"); providerID != "" {
		client.Subscribe(providerID)
	}

	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	initialEvent := &Event{
		Type:      "connection.established",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"client_id": clientID,
		},
	}

	if data, err := json.Marshal(initialEvent); err == nil {
		_, _ = c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data)))
		c.Writer.Flush()
	}

	// Keep connection alive and stream events
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[ERROR] marshaling event: %v", err)
				continue
			}

			// Write SSE format: data: {json}\n\n
			if _, err = c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data))); err != nil {
				log.Printf("[WARN] writing to SSE client %s: %v", clientID, err)
				return
			}
			c.Writer.Flush()
		case <-ticker.C:
			heartbeat := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now(),
			}
			if data, err := json.Marshal(heartbeat); err == nil {
				_, _ = c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data)))
				c.Writer.Flush()
			}
		}
	}
}
