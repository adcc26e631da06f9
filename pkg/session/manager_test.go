package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegisterGetRemove(t *testing.T) {
	m := NewManager(nil)

	s := m.Register(ID(1), 30*time.Second)
	require.NotNil(t, s)

	got, ok := m.Get(ID(1))
	assert.True(t, ok)
	assert.True(t, s.Equals(got))
	assert.Equal(t, 1, m.Len())

	m.Remove(ID(1))
	_, ok = m.Get(ID(1))
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestManagerOpenFiresOpenListeners(t *testing.T) {
	m := NewManager(nil)
	s := m.Register(ID(1), time.Second)

	fired := false
	s.OnOpen(func(*Session) { fired = true })

	m.Open(s)

	assert.True(t, fired)
	assert.True(t, s.IsOpen())
}

func TestManagerExpiredReportsOnlyStaleOpenSessions(t *testing.T) {
	m := NewManager(nil)

	stale := m.Register(ID(1), 10*time.Millisecond)
	m.Open(stale)
	stale.AdvanceTimestamp(time.Now().Add(-time.Hour).UnixNano())

	fresh := m.Register(ID(2), time.Hour)
	m.Open(fresh)
	fresh.AdvanceTimestamp(time.Now().UnixNano())

	closed := m.Register(ID(3), 10*time.Millisecond)
	closed.AdvanceTimestamp(time.Now().Add(-time.Hour).UnixNano())

	expired := m.Expired(time.Now())

	require.Len(t, expired, 1)
	assert.True(t, expired[0].Equals(stale))
}
