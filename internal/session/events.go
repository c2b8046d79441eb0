package session

import (
	"sync"
	"time"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// EventType represents the type of session event
type EventType string

const (
	EventContent  EventType = "content"
	EventPresence EventType = "presence"
	EventStatus   EventType = "status"
)

// Event represents a change notification
type Event struct {
	Type      EventType             `json:"type"`
	Room      core.RoomID           `json:"room"`
	Text      string                `json:"text,omitempty"`
	Presence  *awareness.PeerChange `json:"presence,omitempty"`
	Status    *transport.Status     `json:"status,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// SubscriptionOptions configures a subscription
type SubscriptionOptions struct {
	// Events filters by event type (nil = all events)
	Events []EventType
	// Buffer is the channel capacity (0 = 100)
	Buffer int
}

// Subscription represents an active event subscription
type Subscription interface {
	// Events returns the channel to receive events on
	Events() <-chan Event
	// Close stops the subscription and closes the channel
	Close()
}

type subscription struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
	filter []EventType
	bus    *EventBus
}

func (s *subscription) Events() <-chan Event {
	return s.ch
}

func (s *subscription) Close() {
	s.bus.unsubscribe(s)
	s.close()
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscription) matches(event Event) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, et := range s.filter {
		if et == event.Type {
			return true
		}
	}
	return false
}

func (s *subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.matches(event) {
		select {
		case s.ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}

// EventBus fans session events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses events.
type EventBus struct {
	subs []*subscription
	mu   sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe creates a new subscription
func (b *EventBus) Subscribe(opts SubscriptionOptions) Subscription {
	size := opts.Buffer
	if size <= 0 {
		size = 100
	}
	sub := &subscription{ch: make(chan Event, size), filter: opts.Events, bus: b}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(event)
	}
}

func (b *EventBus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close closes all subscriptions
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
