/*
Package events provides an in-memory event broker for host-level operability
notices.

The events package implements a lightweight pub/sub bus for broadcasting
session-host events — sessions registering, opening, expiring, the node
gaining or losing Raft leadership — to interested in-process subscribers. It
supports non-blocking, topic-agnostic delivery over buffered channels,
decoupling the raftfsm and api packages from whoever is watching (today,
the admin HTTP surface's event stream).

This bus is deliberately separate from a client session's own Publish
pipeline in pkg/session: that path is replicated, ordered, and acknowledged
over the wire; this one is local, best-effort, and exists purely for
operability.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop (single goroutine)                         │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 50 each, drop when full)     │
	│                                                            │
	│  Event Types:                                              │
	│    session.registered / .opened / .closed / .expired       │
	│    session.suspect                                          │
	│    raft.leader_acquired / .leader_lost / .snapshot_persisted│
	│    transport.dial_failed                                   │
	└────────────────────────────────────────────────────────────┘

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventSessionExpired,
		Message: "session 42 expired after missed keep-alives",
	})

# Delivery guarantees

Publish never blocks beyond the broker's own 100-entry intake buffer.
Broadcast to a subscriber is best-effort: a subscriber whose 50-entry buffer
is full silently misses the event rather than stalling the broadcast loop
for every other subscriber. Consumers that need a complete history should
read from a durable source (the Raft log itself, or structured logs) rather
than rely on this bus.
*/
package events
