// Package events pushes user notifications and state changes to the
// browser over server-sent events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/repodrop/repodrop/internal/metrics"
)

const (
	EventAlert  = "alert"
	EventState  = "state"
	EventLogin  = "login"
	EventLogout = "logout"
)

// Event is one message to the page.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a subscriber. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends event to every subscriber, dropping it for subscribers
// whose buffer is full.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Alert publishes a message the page shows as a blocking alert.
func (b *Broadcaster) Alert(ctx context.Context, msg string) {
	b.Publish(Event{Type: EventAlert, Message: msg})
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
