// Package types defines the wire- and storage-level data structures shared
// across the session core, the Raft FSM, and the transport layer.
package types

import "encoding/json"

// Consistency is the delivery guarantee a command or query was submitted
// with. It governs whether the session core delivers events linearizably
// (before the command's reply) or sequentially (on the existing connection,
// possibly lagging the reply).
type Consistency string

const (
	// Linearizable events must be delivered before the command's reply.
	Linearizable Consistency = "linearizable"
	// Sequential events ride the existing channel and may be reordered
	// across reconnects, but never across the same connection.
	Sequential Consistency = "sequential"
	// None indicates there is no command in flight (e.g. outside Apply).
	None Consistency = "none"
)

// Command is the envelope a Raft log entry carries. Op distinguishes the
// handful of operations the FSM understands (see raftfsm.FSM.Apply); Data is
// the operation-specific payload, opaque at this layer.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Command operation names understood by the FSM.
const (
	OpRegisterClient = "register_client"
	OpKeepAlive      = "keep_alive"
	OpSubmitCommand  = "submit_command"
	OpUnregister     = "unregister"
)

// RegisterClientPayload is the Data of an OpRegisterClient command. The new
// session's id is the log index the entry is applied at, so it is not
// carried on the wire — the FSM assigns it from the Raft log entry index.
type RegisterClientPayload struct {
	TimeoutMillis int64  `json:"timeout_millis"`
	Address       string `json:"address,omitempty"`
}

// KeepAlivePayload is the Data of an OpKeepAlive command.
type KeepAlivePayload struct {
	SessionID       uint64 `json:"session_id"`
	CommandSequence uint64 `json:"command_sequence"`
}

// SubmitCommandPayload is the Data of an OpSubmitCommand command: a
// client-assigned, session-scoped operation to run against the state
// machine. Operation/Input are opaque beyond this layer.
type SubmitCommandPayload struct {
	SessionID   uint64      `json:"session_id"`
	Sequence    uint64      `json:"sequence"`
	Consistency Consistency `json:"consistency"`
	Operation   string      `json:"operation"`
	Input       []byte      `json:"input"`
}

// UnregisterPayload is the Data of an OpUnregister command.
type UnregisterPayload struct {
	SessionID uint64 `json:"session_id"`
	Expired   bool   `json:"expired"`
}

// EventRecord is the wire representation of a single published event inside
// an event batch (see session.Event for the in-memory form).
type EventRecord struct {
	Name    string `json:"name"`
	Payload []byte `json:"payload,omitempty"`
}

// PublishRequest is the wire form of a publish RPC sent from a session host
// to a client connection: {session, event_index, previous_index, events}.
type PublishRequest struct {
	Session       uint64        `json:"session"`
	EventIndex    uint64        `json:"event_index"`
	PreviousIndex uint64        `json:"previous_index"`
	Events        []EventRecord `json:"events"`
}

// PublishStatus is the status field of a PublishResponse.
type PublishStatus string

const (
	PublishOK    PublishStatus = "OK"
	PublishError PublishStatus = "ERROR"
)

// PublishResponse is the wire form of a publish RPC acknowledgement.
type PublishResponse struct {
	Status PublishStatus `json:"status"`
	Index  uint64        `json:"index"`
	Error  string        `json:"error,omitempty"`
}
