/*
Package raftfsm hosts the session state machine on top of hashicorp/raft:
FSM decodes each committed types.Command and dispatches it onto a
session.Manager, confined to the single executor every registered session
shares (see FSM.runSync); Node owns the raft.Raft instance, the BoltDB
store, the transport server/registry, and the local event broker that FSM
and the admin surface both depend on.

# Apply and the executor

raft.FSM.Apply is documented to run on one goroutine at a time already,
which would be enough serialization on its own if nothing else ever
touched a Session. It isn't enough here: Session.Commit dispatches event
batches asynchronously and their acknowledgment handling (events.go's
handleAck, posted via postToExecutor) runs on whatever goroutine the
transport client's response arrives on. FSM.Apply funnels its own work
through that same *session.Executor and blocks for the result, so Apply
and any in-flight ack never touch a session concurrently.

# Snapshotting

Snapshot/Restore persist and replay storage.SessionRecord, the
registration half of a session; the in-memory deferred queues, response
cache, and pending event batches are rebuilt by replaying the log past
last_applied rather than carried in the snapshot, per storage's doc.
*/
package raftfsm
