/*
Package types defines the wire and log-entry data structures shared by the
session core, the Raft finite state machine, and the transport layer.

Unlike pkg/session, which owns behavior, this package owns only shapes:
the Command envelope carried on the Raft log, its per-operation payloads,
and the PublishRequest/PublishResponse pair that crosses the transport RPC
boundary. Keeping these separate from pkg/session avoids an import cycle
between the FSM (which decodes Commands into session calls) and the
transport layer (which encodes session events into PublishRequests).

# Command envelope

Every Raft log entry applied by raftfsm.FSM carries a types.Command:

	{"op": "register_client", "data": <json-encoded RegisterClientPayload>}

The Op field selects which *Payload type Data decodes into, so raftfsm.FSM
dispatches on a single Command.Op string rather than needing one Go type
per Raft log entry kind.

# Wire format

PublishRequest and PublishResponse are the JSON shapes carried over the
transport package's gRPC Publish RPC (see pkg/transport). Bit-level wire
compatibility is explicitly out of scope for the session core; these
types exist so raftfsm and transport can agree on a shape without the
session core importing either.
*/
package types
