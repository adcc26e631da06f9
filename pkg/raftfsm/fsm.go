package raftfsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/raftsession/pkg/events"
	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/storage"
	"github.com/cuemby/raftsession/pkg/types"
	"github.com/hashicorp/raft"
)

// CommandExecutor runs the business-logic side of an OpSubmitCommand entry:
// everything this tree's session core deliberately does not know about
// (see SPEC_FULL.md's narrow-interface note). It may call sess.Publish to
// emit events as part of applying operation/input; its return value and
// error text are cached, wrapped in a commandResult, as the command's
// response. A nil executor means every
// submitted command is a no-op that simply echoes its input back.
type CommandExecutor func(ctx session.Context, sess *session.Session, operation string, input []byte) ([]byte, error)

func echoExecutor(_ session.Context, _ *session.Session, _ string, input []byte) ([]byte, error) {
	return input, nil
}

// QueryExecutor runs the read-only side of a deferred query once its gate
// (command_sequence or last_applied, see QueryGate) has been reached: the
// read-path counterpart to CommandExecutor, for business logic this tree
// deliberately does not know about. It must not mutate session state or
// call sess.Publish — a query never advances the log.
type QueryExecutor func(sess *session.Session, operation string, input []byte) ([]byte, error)

func echoQuery(_ *session.Session, _ string, input []byte) ([]byte, error) {
	return input, nil
}

// QueryGateKind selects which of a session's two monotonic counters a
// deferred query gates on.
type QueryGateKind int

const (
	// GateSequence gates on the session's command_sequence.
	GateSequence QueryGateKind = iota
	// GateIndex gates on the session's last_applied log index.
	GateIndex
)

// QueryGate names the counter and value a deferred query waits for before
// running (see session.RegisterSequenceQuery/RegisterIndexQuery).
type QueryGate struct {
	Kind  QueryGateKind
	Value uint64
}

// commandResult is what gets cached in a session's response slot and
// returned from raft.Apply's future, so a leader resubmitting a duplicate
// sequence (or a caller inspecting Apply's return value directly) gets the
// same shape either way.
type commandResult struct {
	Result []byte `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// FSM implements raft.FSM for the session state machine: it decodes each
// committed types.Command and dispatches it onto the session core,
// confined to the single-threaded executor per package session's
// concurrency contract.
//
// mu exists because hashicorp/raft's own FSM contract requires one:
// hashicorp/raft may invoke Snapshot concurrently with Apply, so reads that
// need a consistent cut of persisted state take the read lock while Apply
// holds the write lock for the duration of one log entry.
type FSM struct {
	mu sync.RWMutex

	store    storage.Store
	sessions *session.Manager

	// run is the same *session.Executor every Manager-registered Session
	// is attached to (see Session.SetExecutor). Apply submits its entire
	// body through it and blocks for the result, rather than running
	// inline on raft's calling goroutine: that is what lets an
	// asynchronous publish-ack completion (posted back via
	// Session.postToExecutor) and the next Apply call never touch the
	// same session concurrently without either one taking a lock.
	run     *session.Executor
	command CommandExecutor
	query   QueryExecutor

	connections session.ConnectionManager
	isLeader    func() bool

	// events is the local operability bus lifecycle notices are published
	// on; nil until SetEventBroker is called, which tests and Snapshot
	// round-trips that don't care about notifications simply leave unset.
	events *events.Broker
}

// SetEventBroker attaches the operability event broker lifecycle notices
// are published on. Safe to call once before the FSM starts serving Apply.
func (f *FSM) SetEventBroker(b *events.Broker) {
	f.events = b
}

// publish emits a lifecycle notice for sessionID, a no-op if no broker is
// attached.
func (f *FSM) publish(evType events.EventType, sessionID uint64, message string) {
	if f.events == nil {
		return
	}
	f.events.Publish(&events.Event{
		Type:    evType,
		Message: message,
		Metadata: map[string]string{
			"session_id": fmt.Sprintf("%d", sessionID),
		},
	})
}

// NewFSM creates an FSM backed by store and sessions. executor must be the
// same *session.Executor passed to session.NewManager for sessions, so
// Apply and any in-flight publish-ack completions serialize against each
// other. connections resolves peer addresses for linearizable event
// delivery (see session.Context); isLeader reports whether the calling
// goroutine is on this node's synchronous apply path, i.e. whether this
// node currently holds Raft leadership. command may be nil, in which case
// submitted commands echo their input back; query may be nil, in which
// case deferred queries echo their input back once their gate is reached.
func NewFSM(store storage.Store, sessions *session.Manager, executor *session.Executor, connections session.ConnectionManager, isLeader func() bool, command CommandExecutor, query QueryExecutor) *FSM {
	if command == nil {
		command = echoExecutor
	}
	if query == nil {
		query = echoQuery
	}
	return &FSM{
		store:       store,
		sessions:    sessions,
		run:         executor,
		connections: connections,
		isLeader:    isLeader,
		command:     command,
		query:       query,
	}
}

// runSync submits fn to the shared executor and blocks for its result. A
// nil executor (tests that construct an FSM without one) runs fn inline.
func (f *FSM) runSync(fn func() interface{}) interface{} {
	if f.run == nil {
		return fn()
	}
	result := make(chan interface{}, 1)
	f.run.Submit(func() {
		result <- fn()
	})
	return <-result
}

// Query runs a deferred read against sessionID, gated on its command_sequence
// or last_applied reaching gate.Value (see session.RegisterSequenceQuery/
// RegisterIndexQuery). Unlike SubmitCommand, a query never goes through the
// Raft log: it is a read of state already replicated by prior Apply calls,
// so appending a new log entry for it would be pure overhead. Query still
// runs on the FSM's shared executor, so it serializes against Apply and
// releases in the same order commands apply: after every command at or
// below its gate, before any command above it. If the session is already
// past the gate when Query is called, the read runs immediately; otherwise
// it is parked and this call blocks until a later Apply call advances the
// session past the gate.
func (f *FSM) Query(sessionID uint64, gate QueryGate, operation string, input []byte) ([]byte, error) {
	resultCh := make(chan commandResult, 1)
	notFound := f.runSync(func() interface{} {
		sess, ok := f.sessions.Get(session.ID(sessionID))
		if !ok {
			return session.ErrClosed
		}

		run := func() {
			result, err := f.query(sess, operation, input)
			cr := commandResult{Result: result}
			if err != nil {
				cr.Err = err.Error()
			}
			resultCh <- cr
		}

		switch gate.Kind {
		case GateIndex:
			if gate.Value <= sess.LastApplied() {
				run()
			} else {
				sess.RegisterIndexQuery(gate.Value, run)
			}
		default:
			if gate.Value <= sess.CommandSequence() {
				run()
			} else {
				sess.RegisterSequenceQuery(gate.Value, run)
			}
		}
		return nil
	})
	if err, ok := notFound.(error); ok {
		return nil, err
	}

	cr := <-resultCh
	if cr.Err != "" {
		return cr.Result, fmt.Errorf("%s", cr.Err)
	}
	return cr.Result, nil
}

// applyContext is the session.Context live for the duration of a single
// Apply call.
type applyContext struct {
	index       uint64
	consistency types.Consistency
	synchronous bool
	connections session.ConnectionManager
}

func (c *applyContext) Index() uint64                          { return c.index }
func (c *applyContext) Consistency() types.Consistency         { return c.consistency }
func (c *applyContext) Synchronous() bool                      { return c.synchronous }
func (c *applyContext) Connections() session.ConnectionManager { return c.connections }

// Apply applies one committed Raft log entry to the session state machine.
func (f *FSM) Apply(l *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	var cmd types.Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("raftfsm: failed to unmarshal command: %w", err)
	}

	return f.runSync(func() interface{} {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch cmd.Op {
		case types.OpRegisterClient:
			return f.applyRegisterClient(l, cmd.Data)
		case types.OpKeepAlive:
			return f.applyKeepAlive(l, cmd.Data)
		case types.OpSubmitCommand:
			return f.applySubmitCommand(l, cmd.Data)
		case types.OpUnregister:
			return f.applyUnregister(l, cmd.Data)
		default:
			return fmt.Errorf("raftfsm: unknown command op %q", cmd.Op)
		}
	})
}

func (f *FSM) applyRegisterClient(l *raft.Log, data json.RawMessage) interface{} {
	var p types.RegisterClientPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("raftfsm: failed to unmarshal register_client: %w", err)
	}

	id := session.ID(l.Index)
	timeout := time.Duration(p.TimeoutMillis) * time.Millisecond
	sess := f.sessions.Register(id, timeout)
	sess.AdvanceTimestamp(l.AppendedAt.UnixNano())
	sess.SetConnectIndex(l.Index)
	if p.Address != "" {
		sess.SetAddress(session.Address(p.Address))
	}
	f.sessions.Open(sess)

	if err := f.persist(sess); err != nil {
		log.WithSessionID(uint64(id)).Error().Err(err).Msg("failed to persist newly registered session")
	}
	metrics.SessionsRegisteredTotal.Inc()
	metrics.SessionsTotal.WithLabelValues("open").Inc()
	f.publish(events.EventSessionRegistered, uint64(id), "")
	f.publish(events.EventSessionOpened, uint64(id), "")

	return uint64(id)
}

func (f *FSM) applyKeepAlive(l *raft.Log, data json.RawMessage) interface{} {
	var p types.KeepAlivePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("raftfsm: failed to unmarshal keep_alive: %w", err)
	}

	sess, ok := f.sessions.Get(session.ID(p.SessionID))
	if !ok {
		return session.ErrClosed
	}

	sess.AdvanceTimestamp(l.AppendedAt.UnixNano())
	sess.SetKeepAliveIndex(l.Index)
	sess.SetCommandSequence(p.CommandSequence)
	sess.SetLastApplied(l.Index)

	if err := f.persist(sess); err != nil {
		log.WithSessionID(p.SessionID).Error().Err(err).Msg("failed to persist keep-alive")
	}
	return nil
}

func (f *FSM) applySubmitCommand(l *raft.Log, data json.RawMessage) interface{} {
	var p types.SubmitCommandPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("raftfsm: failed to unmarshal submit_command: %w", err)
	}

	sess, ok := f.sessions.Get(session.ID(p.SessionID))
	if !ok {
		return session.ErrClosed
	}
	sess.AdvanceTimestamp(l.AppendedAt.UnixNano())

	ctx := &applyContext{
		index:       l.Index,
		consistency: p.Consistency,
		synchronous: f.isLeader != nil && f.isLeader(),
		connections: f.connections,
	}

	if p.Sequence <= sess.RequestSequence() {
		if cached, ok := sess.Response(p.Sequence); ok {
			return cached
		}
		sess.SetLastApplied(l.Index)
		return nil
	}

	sess.RegisterRequest(p.Sequence, func() {
		result, err := f.command(ctx, sess, p.Operation, p.Input)
		cr := commandResult{Result: result}
		if err != nil {
			cr.Err = err.Error()
		}
		sess.RegisterResponse(p.Sequence, cr, nil)
		sess.Commit(ctx, l.Index)
		sess.SetCommandSequence(p.Sequence)
		metrics.CommandsAppliedTotal.Inc()
		f.publish(events.EventSessionCommand, p.SessionID, p.Operation)
	})
	sess.SetRequestSequence(p.Sequence)
	sess.SetLastApplied(l.Index)

	if err := f.persist(sess); err != nil {
		log.WithSessionID(p.SessionID).Error().Err(err).Msg("failed to persist session after submit_command")
	}

	result, _ := sess.Response(p.Sequence)
	return result
}

func (f *FSM) applyUnregister(l *raft.Log, data json.RawMessage) interface{} {
	var p types.UnregisterPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("raftfsm: failed to unmarshal unregister: %w", err)
	}

	sess, ok := f.sessions.Get(session.ID(p.SessionID))
	if !ok {
		return nil
	}
	sess.AdvanceTimestamp(l.AppendedAt.UnixNano())

	if p.Expired {
		sess.Expire()
		metrics.SessionsExpiredTotal.Inc()
		f.publish(events.EventSessionExpired, p.SessionID, "")
	} else {
		sess.Unregister()
		sess.Close()
		f.publish(events.EventSessionClosed, p.SessionID, "")
	}
	metrics.SessionsTotal.WithLabelValues("closed").Inc()

	if err := f.persist(sess); err != nil {
		log.WithSessionID(p.SessionID).Error().Err(err).Msg("failed to persist unregistered session")
	}
	f.sessions.Remove(session.ID(p.SessionID))
	return nil
}

// persist writes sess's registration-half state to the durable store. It
// runs on the same goroutine as Apply, so it sees a consistent snapshot of
// the fields it reads.
func (f *FSM) persist(sess *session.Session) error {
	return f.store.PutSession(toRecord(sess))
}

func toRecord(sess *session.Session) *storage.SessionRecord {
	return &storage.SessionRecord{
		ID:                  uint64(sess.ID()),
		TimeoutMillis:       sess.Timeout().Milliseconds(),
		Timestamp:           sess.Timestamp(),
		ConnectIndex:        sess.ConnectIndex(),
		KeepAliveIndex:      sess.KeepAliveIndex(),
		RequestSequence:     sess.RequestSequence(),
		CommandSequence:     sess.CommandSequence(),
		LastApplied:         sess.LastApplied(),
		CommandLowWaterMark: sess.CommandLowWaterMark(),
		EventIndex:          sess.EventIndex(),
		CompleteIndex:       sess.CompleteIndex(),
		Address:             string(sess.Address()),
		Closed:              sess.IsClosed(),
		Suspect:             sess.IsSuspect(),
		Unregistering:       sess.IsUnregistering(),
		Expired:             sess.IsExpired(),
	}
}

// Snapshot captures the registration half of every session record in the
// store, including sessions already unregistered or expired. The
// deferred queues, response cache, and pending event batches are
// deliberately left out (see storage.SessionRecord's doc): a restored
// replica rebuilds them by replaying the log past last_applied, the same
// way a fresh follower would.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	records, err := f.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("raftfsm: failed to list sessions for snapshot: %w", err)
	}
	return &fsmSnapshot{sessions: records, events: f.events}, nil
}

// Restore replaces live session state from a previously persisted
// snapshot. Each restored session is registered closed, matching the
// Initial state New assigns; applyRegisterClient's log entry will not be
// replayed again past a snapshot, so the restored fields (not the zero
// value New would otherwise leave) must be applied directly here.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("raftfsm: failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range snap.sessions {
		sess := f.sessions.Register(session.ID(rec.ID), time.Duration(rec.TimeoutMillis)*time.Millisecond)
		restoreFields(sess, rec)
		if !rec.Closed {
			f.sessions.Open(sess)
		}
		if err := f.store.PutSession(rec); err != nil {
			return fmt.Errorf("raftfsm: failed to persist restored session %d: %w", rec.ID, err)
		}
	}
	return nil
}

// restoreFields replays a persisted record's counters onto a freshly
// registered session via its own public setters/advancers, so a restored
// session converges to the same state a from-scratch replay of the log
// would have left it in.
func restoreFields(sess *session.Session, rec *storage.SessionRecord) {
	sess.AdvanceTimestamp(rec.Timestamp)
	sess.SetConnectIndex(rec.ConnectIndex)
	sess.SetKeepAliveIndex(rec.KeepAliveIndex)
	sess.SetRequestSequence(rec.RequestSequence)
	sess.SetCommandSequence(rec.CommandSequence)
	sess.SetLastApplied(rec.LastApplied)
	sess.ClearResponses(rec.CommandLowWaterMark)
	sess.ClearEvents(rec.CompleteIndex)
	if rec.Address != "" {
		sess.SetAddress(session.Address(rec.Address))
	}
	if rec.Suspect {
		sess.Suspect()
	}
	if rec.Unregistering {
		sess.Unregister()
	}
	if rec.Expired {
		sess.Expire()
	} else if rec.Closed {
		sess.Close()
	}
}

// fsmSnapshot is the raft.FSMSnapshot realization: a point-in-time copy of
// every session record, persisted verbatim to the snapshot sink.
type fsmSnapshot struct {
	sessions []*storage.SessionRecord
	events   *events.Broker
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftSnapshotDuration)

	err := json.NewEncoder(sink).Encode(s)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("raftfsm: failed to persist snapshot: %w", err)
	}
	if err := sink.Close(); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(&events.Event{
			Type:    events.EventSnapshotPersisted,
			Message: sink.ID(),
		})
	}
	return nil
}

func (s *fsmSnapshot) Release() {}

// MarshalJSON/UnmarshalJSON let fsmSnapshot round-trip through an exported
// field name without exporting the sessions slice to every other package
// in this tree.
func (s *fsmSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sessions []*storage.SessionRecord `json:"sessions"`
	}{Sessions: s.sessions})
}

func (s *fsmSnapshot) UnmarshalJSON(data []byte) error {
	var wire struct {
		Sessions []*storage.SessionRecord `json:"sessions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.sessions = wire.Sessions
	return nil
}
