// Package session implements the server-side session object of a
// Raft-replicated state machine: per-client sequencing, deferred query
// execution, command-result caching, and event delivery with linearizable
// or sequential consistency.
//
// A Session is created when a register-client log entry is applied and is
// replicated identically on every server. All mutating methods are meant to
// be called from a single goroutine — the state machine's apply loop, see
// Executor — so the type carries no internal lock of its own; the one
// exception is its listener registry, which tolerates concurrent reads from
// inbound event dispatch (see listeners.go).
package session

import (
	"sync"
	"time"
)

// ID uniquely identifies a session. It equals the Raft log index at which
// the session's register-client entry was applied.
type ID uint64

// Session is the per-client bookkeeping record described by the package
// doc. Two sessions are equal iff they share an ID (see Equals).
type Session struct {
	id      ID
	timeout time.Duration

	// timestamp is a monotonic high-water mark of the latest log entry
	// timestamp observed for this session; it only ever advances.
	timestamp int64

	connectIndex   uint64
	keepAliveIndex uint64

	requestSequence uint64
	commandSequence uint64
	lastApplied     uint64

	commandLowWaterMark uint64

	eventIndex    uint64
	completeIndex uint64

	closed        bool
	suspect       bool
	unregistering bool
	expired       bool

	// Deferred execution (sequence.go).
	commands        map[uint64]func()
	sequenceQueries map[uint64][]func()
	indexQueries    map[uint64][]func()
	queryListPool   sync.Pool

	// Response cache (cache.go).
	responses map[uint64]any
	futures   map[uint64]chan struct{}

	// Event pipeline (events.go).
	currentBatch *EventHolder
	pending      []*EventHolder // queued batches awaiting ack, oldest first

	connection Connection
	address    Address
	executor   *Executor

	listeners *ListenerRegistry

	openListeners  []func(*Session)
	closeListeners []func(*Session)
}

// New creates a Session in the Initial (closed) state. id is the log index
// of the register-client entry that created it; last_applied is initialized
// to id-1 so the first entry applied for this session advances it to id.
func New(id ID, timeout time.Duration) *Session {
	s := &Session{
		id:          id,
		timeout:     timeout,
		lastApplied: uint64(id) - 1,
		closed:      true,

		commands:        make(map[uint64]func()),
		sequenceQueries: make(map[uint64][]func()),
		indexQueries:    make(map[uint64][]func()),

		responses: make(map[uint64]any),
		futures:   make(map[uint64]chan struct{}),

		listeners: newListenerRegistry(),
	}
	s.queryListPool.New = func() any {
		return make([]func(), 0, 4)
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() ID { return s.id }

// Equals reports whether two sessions share the same identity. A nil
// receiver or argument is never equal to a non-nil session.
func (s *Session) Equals(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.id == other.id
}

// Hash derives a hash from the session's identity, consistent with Equals.
func (s *Session) Hash() uint64 { return uint64(s.id) }

// Timeout returns the session's inactivity budget. Enforcing it is an
// external collaborator's responsibility (see SPEC_FULL.md).
func (s *Session) Timeout() time.Duration { return s.timeout }

// Timestamp returns the latest log timestamp observed for this session.
func (s *Session) Timestamp() int64 { return s.timestamp }

// AdvanceTimestamp raises the session's timestamp high-water mark. Calls
// with a timestamp at or below the current value are no-ops, since the
// field only ever advances.
func (s *Session) AdvanceTimestamp(ts int64) {
	if ts > s.timestamp {
		s.timestamp = ts
	}
}

// ConnectIndex and KeepAliveIndex record the log indices of the most
// recent connect and keep-alive entries, for use by external collaborators
// (e.g. the session-registration/expiration policy).
func (s *Session) ConnectIndex() uint64   { return s.connectIndex }
func (s *Session) KeepAliveIndex() uint64 { return s.keepAliveIndex }

func (s *Session) SetConnectIndex(i uint64)   { s.connectIndex = i }
func (s *Session) SetKeepAliveIndex(i uint64) { s.keepAliveIndex = i }

// RequestSequence, CommandSequence, and LastApplied expose the counters
// advanced by the operations in sequence.go.
func (s *Session) RequestSequence() uint64 { return s.requestSequence }
func (s *Session) CommandSequence() uint64 { return s.commandSequence }
func (s *Session) LastApplied() uint64     { return s.lastApplied }

// CommandLowWaterMark returns the highest sequence whose cached response
// has been discarded (see cache.go's ClearResponses).
func (s *Session) CommandLowWaterMark() uint64 { return s.commandLowWaterMark }

// EventIndex and CompleteIndex expose the event-pipeline counters described
// in events.go.
func (s *Session) EventIndex() uint64    { return s.eventIndex }
func (s *Session) CompleteIndex() uint64 { return s.completeIndex }

// SetConnection installs the transport channel used for event delivery and
// registers this session's inbound publish handler on it.
func (s *Session) SetConnection(conn Connection) {
	s.connection = conn
	if conn != nil {
		conn.Handle(s.HandleInboundPublish)
	}
}

// SetAddress records the last-known peer address, used as a fallback when a
// linearizable send has no attached connection.
func (s *Session) SetAddress(addr Address) {
	s.address = addr
}

// Address returns the last-known peer address set via SetAddress, or the
// zero Address if none has been recorded.
func (s *Session) Address() Address {
	return s.address
}

// SetExecutor attaches the single-threaded executor this session's apply
// goroutine runs on. Send completions (see events.go) are posted back
// through it so the dial and RPC wait happen off-executor while everything
// that touches session state still runs serialized on it.
func (s *Session) SetExecutor(e *Executor) {
	s.executor = e
}
