package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegisterAndClearResponses(t *testing.T) {
	s := New(ID(1), time.Second)

	done1 := make(chan struct{})
	done2 := make(chan struct{})
	s.RegisterResponse(1, "result-1", done1)
	s.RegisterResponse(2, "result-2", done2)

	v, ok := s.Response(1)
	assert.True(t, ok)
	assert.Equal(t, "result-1", v)

	s.ClearResponses(1)
	_, ok = s.Response(1)
	assert.False(t, ok, "response at or below the low water mark must be discarded")
	_, ok = s.Future(1)
	assert.False(t, ok)

	v, ok = s.Response(2)
	assert.True(t, ok)
	assert.Equal(t, "result-2", v)
	assert.Equal(t, uint64(1), s.CommandLowWaterMark())
}

func TestClearResponsesIsMonotone(t *testing.T) {
	s := New(ID(1), time.Second)
	s.RegisterResponse(1, "a", nil)
	s.RegisterResponse(2, "b", nil)

	s.ClearResponses(2)
	s.ClearResponses(1)

	assert.Equal(t, uint64(2), s.CommandLowWaterMark(), "clearing with a lower sequence than the current mark must be a no-op")
	_, ok := s.Response(2)
	assert.False(t, ok)
}
