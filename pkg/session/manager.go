package session

import (
	"sync"
	"time"
)

// Manager is the registry of live sessions for one state-machine replica.
// It is the session registration/expiration policy collaborator, kept
// separate from the core object itself — this type owns the map and the
// open/visibility ordering, while Session owns its own state.
//
// Manager's own map access is guarded by a mutex so registration can be
// queried from outside the single-threaded executor (e.g. an admin HTTP
// handler listing sessions); all other mutation of a *Session itself must
// still happen on the executor, per package doc.
type Manager struct {
	mu       sync.RWMutex
	sessions map[ID]*Session
	executor *Executor
}

// NewManager creates an empty Manager driven by executor. Every session it
// registers is attached to the same executor via Session.SetExecutor.
func NewManager(executor *Executor) *Manager {
	return &Manager{
		sessions: make(map[ID]*Session),
		executor: executor,
	}
}

// Register creates, stores, and returns a new Session for id. It does not
// open the session — callers open it once its register-client entry is
// known to be durable, then call Open to make it visible.
func (m *Manager) Register(id ID, timeout time.Duration) *Session {
	s := New(id, timeout)
	s.SetExecutor(m.executor)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s
}

// Open transitions s to the Open state and fires its open listeners. This
// is the point at which open becomes externally visible: registrars that
// call OnOpen before this point will be notified; those calling OnOpen
// after this point see only a session that is already open and get no
// replay, since unlike OnClose, open is a one-time edge, not a state.
func (m *Manager) Open(s *Session) {
	s.Open()
	s.FireOpen()
}

// Get looks up a session by id.
func (m *Manager) Get(id ID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops id from the registry. It does not close or expire the
// session; callers decide that transition before removing it.
func (m *Manager) Remove(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len reports the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Each calls fn once per registered session, in unspecified order. fn must
// not mutate the session outside the executor.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Expired returns every session whose timestamp high-water mark is older
// than now-timeout and which is not already closed — candidates for the
// registration/expiration policy to expire. Manager does not expire them
// itself: that decision belongs to the caller, which typically replicates
// an expire command through the log before calling Session.Expire.
func (m *Manager) Expired(now time.Time) []*Session {
	var expired []*Session
	m.Each(func(s *Session) {
		if s.IsClosed() {
			return
		}
		deadline := s.Timestamp() + s.Timeout().Nanoseconds()
		if now.UnixNano() > deadline {
			expired = append(expired, s)
		}
	})
	return expired
}
