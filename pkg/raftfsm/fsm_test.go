package raftfsm

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/storage"
	"github.com/cuemby/raftsession/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[uint64]*storage.SessionRecord
	metadata map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uint64]*storage.SessionRecord),
		metadata: make(map[string][]byte),
	}
}

func (m *memStore) PutSession(r *storage.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.sessions[r.ID] = &cp
	return nil
}

func (m *memStore) GetSession(id uint64) (*storage.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListSessions() ([]*storage.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.SessionRecord, 0, len(m.sessions))
	for _, r := range m.sessions {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) DeleteSession(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) SaveRaftMetadata(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[key] = data
	return nil
}

func (m *memStore) LoadRaftMetadata(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata[key], nil
}

func (m *memStore) Close() error { return nil }

func newTestFSM(t *testing.T) (*FSM, *memStore, *session.Manager) {
	t.Helper()
	store := newMemStore()
	executor := session.NewExecutor(16)
	t.Cleanup(executor.Stop)
	sessions := session.NewManager(executor)
	fsm := NewFSM(store, sessions, executor, nil, func() bool { return true }, nil, nil)
	return fsm, store, sessions
}

func logWithCommand(t *testing.T, index uint64, op string, payload any) *raft.Log {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmdBytes, err := json.Marshal(types.Command{Op: op, Data: data})
	require.NoError(t, err)
	return &raft.Log{Index: index, Data: cmdBytes, AppendedAt: time.Now()}
}

func TestApplyRegisterClientOpensSessionAndPersists(t *testing.T) {
	fsm, store, sessions := newTestFSM(t)

	resp := fsm.Apply(logWithCommand(t, 5, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))
	id, ok := resp.(uint64)
	require.True(t, ok)
	assert.Equal(t, uint64(5), id)

	sess, ok := sessions.Get(session.ID(5))
	require.True(t, ok)
	assert.True(t, sess.IsOpen())

	rec, err := store.GetSession(5)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Closed)
}

func TestApplyKeepAliveAdvancesCounters(t *testing.T) {
	fsm, _, sessions := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))

	fsm.Apply(logWithCommand(t, 2, types.OpKeepAlive, types.KeepAlivePayload{SessionID: 1, CommandSequence: 3}))

	sess, ok := sessions.Get(session.ID(1))
	require.True(t, ok)
	assert.Equal(t, uint64(3), sess.CommandSequence())
	assert.Equal(t, uint64(2), sess.KeepAliveIndex())
}

func TestApplyKeepAliveOnUnknownSessionReturnsErrClosed(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	resp := fsm.Apply(logWithCommand(t, 1, types.OpKeepAlive, types.KeepAlivePayload{SessionID: 99}))
	assert.Equal(t, session.ErrClosed, resp)
}

func TestApplySubmitCommandRunsInOrderAndCaches(t *testing.T) {
	fsm, _, sessions := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))

	fsm.Apply(logWithCommand(t, 2, types.OpSubmitCommand, types.SubmitCommandPayload{
		SessionID: 1, Sequence: 1, Consistency: types.None, Operation: "noop", Input: []byte("hello"),
	}))

	sess, ok := sessions.Get(session.ID(1))
	require.True(t, ok)
	assert.Equal(t, uint64(1), sess.RequestSequence())
	assert.Equal(t, uint64(1), sess.CommandSequence())

	cached, ok := sess.Response(1)
	require.True(t, ok)
	cr, ok := cached.(commandResult)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), cr.Result)
}

func TestApplySubmitCommandDuplicateReturnsCachedResponse(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))

	payload := types.SubmitCommandPayload{SessionID: 1, Sequence: 1, Operation: "noop", Input: []byte("a")}
	first := fsm.Apply(logWithCommand(t, 2, types.OpSubmitCommand, payload))
	second := fsm.Apply(logWithCommand(t, 3, types.OpSubmitCommand, payload))

	assert.Equal(t, first, second)
}

func TestQueryRunsImmediatelyWhenGateAlreadyReached(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))
	fsm.Apply(logWithCommand(t, 2, types.OpSubmitCommand, types.SubmitCommandPayload{
		SessionID: 1, Sequence: 1, Operation: "noop", Input: []byte("a"),
	}))

	result, err := fsm.Query(1, QueryGate{Kind: GateSequence, Value: 1}, "read", []byte("q"))
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), result)
}

func TestQueryDefersUntilCommandSequenceReachesGate(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))

	done := make(chan struct{})
	var result []byte
	var queryErr error
	go func() {
		result, queryErr = fsm.Query(1, QueryGate{Kind: GateSequence, Value: 1}, "read", []byte("q"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("query returned before its gating command applied")
	case <-time.After(50 * time.Millisecond):
	}

	fsm.Apply(logWithCommand(t, 2, types.OpSubmitCommand, types.SubmitCommandPayload{
		SessionID: 1, Sequence: 1, Operation: "noop", Input: []byte("a"),
	}))

	<-done
	require.NoError(t, queryErr)
	assert.Equal(t, []byte("q"), result)
}

func TestQueryOnUnknownSessionReturnsErrClosed(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	_, err := fsm.Query(99, QueryGate{Kind: GateSequence, Value: 1}, "read", nil)
	assert.Equal(t, session.ErrClosed, err)
}

func TestApplyUnregisterExpiredRemovesSessionAndCountsExpiry(t *testing.T) {
	fsm, store, sessions := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 1000}))

	fsm.Apply(logWithCommand(t, 2, types.OpUnregister, types.UnregisterPayload{SessionID: 1, Expired: true}))

	_, ok := sessions.Get(session.ID(1))
	assert.False(t, ok)

	rec, err := store.GetSession(1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Expired)
	assert.True(t, rec.Closed)
}

func TestSnapshotAndRestoreRoundTripSessionRecords(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	fsm.Apply(logWithCommand(t, 1, types.OpRegisterClient, types.RegisterClientPayload{TimeoutMillis: 2000, Address: "10.0.0.1:7000"}))
	fsm.Apply(logWithCommand(t, 2, types.OpKeepAlive, types.KeepAlivePayload{SessionID: 1, CommandSequence: 4}))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &memSnapshotSink{}
	require.NoError(t, snap.Persist(sink))

	restoreStore := newMemStore()
	restoreExecutor := session.NewExecutor(8)
	t.Cleanup(restoreExecutor.Stop)
	restoreSessions := session.NewManager(restoreExecutor)
	restored := NewFSM(restoreStore, restoreSessions, restoreExecutor, nil, nil, nil, nil)

	require.NoError(t, restored.Restore(sink.reader()))

	sess, ok := restoreSessions.Get(session.ID(1))
	require.True(t, ok)
	assert.Equal(t, uint64(4), sess.CommandSequence())
	assert.True(t, sess.IsOpen())
	assert.Equal(t, session.Address("10.0.0.1:7000"), sess.Address())
}
