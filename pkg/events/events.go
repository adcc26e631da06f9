// Package events is a process-local operability bus: it broadcasts
// lifecycle notices about the session host itself (sessions opening,
// expiring, the node gaining or losing leadership) to in-process
// subscribers such as the admin HTTP surface. It is unrelated to a
// client's own session.Publish events, which are replicated and delivered
// over the wire with consistency guarantees; this bus is neither.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of host-level notice being broadcast.
type EventType string

const (
	EventSessionRegistered   EventType = "session.registered"
	EventSessionOpened       EventType = "session.opened"
	EventSessionClosed       EventType = "session.closed"
	EventSessionExpired      EventType = "session.expired"
	EventSessionSuspect      EventType = "session.suspect"
	EventSessionCommand      EventType = "session.command_committed"
	EventLeaderAcquired      EventType = "raft.leader_acquired"
	EventLeaderLost          EventType = "raft.leader_lost"
	EventSnapshotPersisted   EventType = "raft.snapshot_persisted"
	EventTransportDialFailed EventType = "transport.dial_failed"
)

// Event is one host-level notice.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Modeled on the
// teacher's cluster-event broker: a single goroutine drains a buffered
// intake channel and fans out to per-subscriber buffered channels,
// dropping on a full subscriber rather than blocking the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
