package session

import (
	"context"
	"sync"

	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/types"
)

// EventListener consumes a named event's payload. It runs on whatever
// goroutine delivers the event — see HandleInboundPublish — and must not
// block or panic; ListenerRegistry recovers panics and logs them so one
// bad listener cannot destabilize the session.
type EventListener func(payload []byte)

// ListenerRegistry is the event-name -> multiset-of-listeners map a session
// keeps for locally consumed events. Reads (dispatch) and writes
// (registration) may run concurrently: dispatch snapshots the slice for a
// name under RLock and
// invokes listeners outside the lock, so a slow or reentrant listener never
// blocks a concurrent registration.
//
// Separates a mutex-guarded subscriber set from lock-free delivery, the
// way pkg/events.Broker does for its process-wide bus; here the bus is
// scoped to one session and keyed by event name rather than broadcast to
// everyone.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[string][]EventListener
}

func newListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{listeners: make(map[string][]EventListener)}
}

// On appends fn to the multiset of listeners for name.
func (r *ListenerRegistry) On(name string, fn EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[name] = append(r.listeners[name], fn)
}

// Dispatch invokes every listener registered for name with payload. Panics
// and nothing else are caught per listener, logged, and swallowed.
func (r *ListenerRegistry) Dispatch(name string, payload []byte) {
	r.mu.RLock()
	snapshot := append([]EventListener(nil), r.listeners[name]...)
	r.mu.RUnlock()

	for _, fn := range snapshot {
		r.invoke(name, fn, payload)
	}
}

func (r *ListenerRegistry) invoke(name string, fn EventListener, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Logger.Error().
				Str("event", name).
				Interface("panic", rec).
				Msg("session event listener panicked")
		}
	}()
	fn(payload)
}

// OnEvent registers a listener for incoming events named name, delivered
// via this session's HandleInboundPublish (i.e. events this session
// receives as a client of another server process).
func (s *Session) OnEvent(name string, fn EventListener) {
	s.listeners.On(name, fn)
}

// HandleInboundPublish is installed on the session's Connection (see
// SetConnection) as the handler for publish requests this session receives
// as a client. It dispatches each event to local listeners by name and
// always acknowledges OK: these are local consumption events, not the
// replicated event pipeline, so there is nothing to NACK.
func (s *Session) HandleInboundPublish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error) {
	for _, evt := range req.Events {
		s.listeners.Dispatch(evt.Name, evt.Payload)
	}
	return &types.PublishResponse{Status: types.PublishOK, Index: req.EventIndex}, nil
}
