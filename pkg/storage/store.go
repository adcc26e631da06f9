package storage

// SessionRecord is the durable, registration-half projection of a
// session.Session: everything needed to reconstruct a session's identity
// and counters on restart or snapshot restore. The in-memory-only deferred
// queues, response cache, and pending event batches are intentionally not
// part of this record — they are transient per-process state rebuilt by
// replaying the log past last_applied, not persisted state.
type SessionRecord struct {
	ID                  uint64 `json:"id"`
	TimeoutMillis       int64  `json:"timeout_millis"`
	Timestamp           int64  `json:"timestamp"`
	ConnectIndex        uint64 `json:"connect_index"`
	KeepAliveIndex      uint64 `json:"keep_alive_index"`
	RequestSequence     uint64 `json:"request_sequence"`
	CommandSequence     uint64 `json:"command_sequence"`
	LastApplied         uint64 `json:"last_applied"`
	CommandLowWaterMark uint64 `json:"command_low_water_mark"`
	EventIndex          uint64 `json:"event_index"`
	CompleteIndex       uint64 `json:"complete_index"`
	Address             string `json:"address,omitempty"`
	Closed              bool   `json:"closed"`
	Suspect             bool   `json:"suspect"`
	Unregistering       bool   `json:"unregistering"`
	Expired             bool   `json:"expired"`
}

// Store persists the registration half of session state, keyed by session
// ID. The FSM writes a record after each applied entry that touches a
// session and on Raft snapshot restore, and reads the records back only
// when taking a Raft snapshot; sequencing, caching, and event delivery
// never read it and live entirely in memory.
type Store interface {
	PutSession(record *SessionRecord) error
	GetSession(id uint64) (*SessionRecord, error)
	ListSessions() ([]*SessionRecord, error)
	DeleteSession(id uint64) error

	// SaveRaftMetadata and LoadRaftMetadata persist the small amount of
	// node-identity bookkeeping (the cluster ID, saved by bootstrap) that
	// must survive a process restart independent of any snapshot.
	SaveRaftMetadata(key string, data []byte) error
	LoadRaftMetadata(key string) ([]byte, error)

	Close() error
}
