package session

import "fmt"

// Sentinel errors returned by session operations. Callers should compare
// with errors.Is rather than switching on the concrete type, except for
// StaleAckError and TransportError which carry data worth inspecting.
var (
	// ErrInvalidState is returned when publish is called outside of a
	// command's application, or on a closed session.
	ErrInvalidState = fmt.Errorf("session: invalid state")
	// ErrClosed is returned by operations that require an open session.
	ErrClosed = fmt.Errorf("session: closed")
	// ErrExpired is returned by operations on a session that has expired.
	ErrExpired = fmt.Errorf("session: expired")
)

// StaleAckError is returned by handleAck when the acknowledged index is at
// or below complete_index; it carries the offending index so the caller
// can log it without re-deriving session state.
type StaleAckError struct {
	Index         uint64
	CompleteIndex uint64
}

func (e *StaleAckError) Error() string {
	return fmt.Sprintf("session: stale ack at index %d (complete_index=%d)", e.Index, e.CompleteIndex)
}

// TransportError wraps a failure encountered while sending an event batch.
// The batch remains queued; reconnection triggers resend.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
