/*
Package storage provides BoltDB-backed persistence for the registration
half of session state.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for session records and
a small amount of Raft node-identity metadata. All data is serialized as
JSON and stored in buckets keyed for ordered iteration.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  BoltStore                                                 │
	│  - File: <dataDir>/raftsession.db                          │
	│  - Format: B+tree with MVCC                                │
	│  - Transactions: ACID with fsync                           │
	│                                                            │
	│  Bucket Structure                                          │
	│    sessions       (zero-padded u64 session ID -> record)   │
	│    raft_metadata  (string key -> opaque blob)               │
	│                                                            │
	│  Transaction Management                                    │
	│  - Read: db.View()   - concurrent readers                  │
	│  - Write: db.Update() - serialized writers, fsync on commit│
	└────────────────────────────────────────────────────────────┘

What is NOT stored here: the deferred command/query maps, the response
cache, and pending event batches. Those are session.Session's in-memory
state and are rebuilt by the state machine replaying the Raft log past a
session's last_applied index — only the counters and flags needed to
resume that replay are durable.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.PutSession(&storage.SessionRecord{
		ID:            42,
		TimeoutMillis: 30000,
		Closed:        false,
	})

	records, err := store.ListSessions()

# Snapshotting

pkg/raftfsm's Snapshot/Restore use the same SessionRecord shape to encode
the FSM's registration-half state into a Raft snapshot. Snapshot reads the
records from the node's Store with ListSessions, and Restore writes each
restored record back with PutSession.
*/
package storage
