package session

import (
	"context"

	"github.com/cuemby/raftsession/pkg/types"
)

// Context is supplied by the state machine executor for the duration of a
// single command's application. It is the session core's only window onto
// the Raft log index and the command's delivery consistency; the session
// never reads the log or the FSM directly.
type Context interface {
	// Index is the Raft log index of the command currently being applied.
	Index() uint64
	// Consistency is the delivery level the command was submitted with,
	// or types.None when no command is being applied.
	Consistency() types.Consistency
	// Synchronous reports whether the calling goroutine is the leader's
	// synchronous apply path (as opposed to a follower replaying the log).
	Synchronous() bool
	// Connections resolves a peer address to a live Connection, dialing
	// one if necessary.
	Connections() ConnectionManager
}

// Address is an opaque peer identity usable as a connection-registry key.
type Address string

// PublishHandler processes an inbound publish request delivered on a
// Connection this session opened as a client of another server, and
// returns the response to acknowledge it with.
type PublishHandler func(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error)

// Connection is a bidirectional transport channel with request/response
// correlation. The session never owns a Connection's lifecycle; it only
// sends on one and installs a handler for inbound requests.
type Connection interface {
	// Publish sends a publish request and waits for the peer's response.
	Publish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error)
	// Handle installs fn as the handler for inbound publish requests
	// arriving on this connection. Only one handler is active at a time;
	// installing a new one replaces the previous.
	Handle(fn PublishHandler)
}

// ConnectionManager resolves peer addresses to connections, dialing and
// caching as needed. Implementations must be safe for concurrent use.
type ConnectionManager interface {
	Connection(ctx context.Context, addr Address) (Connection, error)
}
