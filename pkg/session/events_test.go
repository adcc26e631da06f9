package session

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/raftsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch completion")
	}
}

func TestPublishOutsideCommandIsInvalidState(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()
	ctx := &fakeContext{index: 1, consistency: types.None}
	err := s.Publish(ctx, "evt", nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPublishOnExpiredSessionReturnsErrExpired(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()
	s.Expire()

	ctx := &fakeContext{index: 1, consistency: types.Sequential}
	err := s.Publish(ctx, "evt", nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestPublishDropsWhenCompleteIndexAhead(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()
	s.completeIndex = 10

	ctx := &fakeContext{index: 5, consistency: types.Sequential}
	err := s.Publish(ctx, "evt", nil)
	require.NoError(t, err)
	assert.Nil(t, s.currentBatch, "an event at an already-acked index must be silently dropped")
}

func TestPublishOpensAndClosesBatchesOnIndexChange(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()

	ctx5 := &fakeContext{index: 5, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx5, "a", []byte("1")))
	require.NoError(t, s.Publish(ctx5, "b", []byte("2")))
	require.NotNil(t, s.currentBatch)
	assert.Equal(t, uint64(5), s.currentBatch.eventIndex)
	assert.Len(t, s.currentBatch.events, 2)

	ctx7 := &fakeContext{index: 7, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx7, "c", nil))
	assert.Equal(t, uint64(7), s.currentBatch.eventIndex)
	assert.Equal(t, uint64(5), s.currentBatch.previousIndex)
	assert.Len(t, s.currentBatch.events, 1, "publishing at a new index implicitly closes the prior batch")
}

func TestCommitIsNoOpWithoutAnOpenBatchAtIndex(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()
	ctx := &fakeContext{index: 5, consistency: types.Sequential}
	assert.Nil(t, s.Commit(ctx, 5), "no batch was opened at 5")
}

func TestCommitLinearizableSynchronousSendsOnAttachedConnection(t *testing.T) {
	s := New(ID(9), time.Second)
	s.Open()
	conn := &fakeConnection{}
	s.SetConnection(conn)

	ctx := &fakeContext{index: 20, consistency: types.Linearizable, synchronous: true}
	require.NoError(t, s.Publish(ctx, "created", []byte("payload")))
	done := s.Commit(ctx, 20)
	require.NotNil(t, done)
	awaitDone(t, done)

	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(9), sent[0].Session)
	assert.Equal(t, uint64(20), sent[0].EventIndex)
	assert.Equal(t, uint64(20), s.CompleteIndex())
}

func TestCommitLinearizableSynchronousDialsLastKnownAddress(t *testing.T) {
	s := New(ID(9), time.Second)
	s.Open()
	s.SetAddress(Address("peer-1"))
	cm := newFakeConnectionManager()

	ctx := &fakeContext{index: 20, consistency: types.Linearizable, synchronous: true, connections: cm}
	require.NoError(t, s.Publish(ctx, "created", nil))
	done := s.Commit(ctx, 20)
	require.NotNil(t, done)
	awaitDone(t, done)

	assert.Equal(t, uint64(20), s.CompleteIndex())
}

func TestCommitSequentialOnlySendsOnAttachedConnection(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()

	ctx := &fakeContext{index: 4, consistency: types.Sequential, synchronous: true}
	require.NoError(t, s.Publish(ctx, "evt", nil))
	done := s.Commit(ctx, 4)
	require.NotNil(t, done)

	select {
	case <-done:
		t.Fatal("sequential publish with no attached connection must not send, batch stays pending")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, s.pending, 1)
}

func TestHandleAckOKClearsThroughIndex(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()

	ctx5 := &fakeContext{index: 5, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx5, "a", nil))
	doneA := s.Commit(ctx5, 5)

	ctx7 := &fakeContext{index: 7, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx7, "b", nil))
	doneB := s.Commit(ctx7, 7)

	s.handleAck(&types.PublishResponse{Status: types.PublishOK, Index: 6})
	select {
	case <-doneA:
	default:
		t.Fatal("batch A (index 5) must be cleared by an ack at 6")
	}
	assert.Equal(t, uint64(6), s.CompleteIndex())
	assert.Len(t, s.pending, 1)

	s.handleAck(&types.PublishResponse{Status: types.PublishOK, Index: 7})
	select {
	case <-doneB:
	default:
		t.Fatal("batch B (index 7) must be cleared by an ack at 7")
	}
	assert.Equal(t, uint64(7), s.CompleteIndex())
	assert.Empty(t, s.pending)
}

func TestHandleAckStaleReturnsStaleAckError(t *testing.T) {
	s := New(ID(1), time.Second)
	s.Open()

	ctx := &fakeContext{index: 5, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx, "a", nil))
	s.Commit(ctx, 5)

	err := s.handleAck(&types.PublishResponse{Status: types.PublishOK, Index: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), s.CompleteIndex())

	err = s.handleAck(&types.PublishResponse{Status: types.PublishOK, Index: 5})
	require.Error(t, err)
	var staleErr *StaleAckError
	require.ErrorAs(t, err, &staleErr)
	assert.Equal(t, uint64(5), staleErr.Index)
	assert.Equal(t, uint64(5), staleErr.CompleteIndex)
}

func TestHandleAckNotOKResendsRemainingBatches(t *testing.T) {
	s := New(ID(3), time.Second)
	s.Open()
	conn := &fakeConnection{}
	// Every send fails at the transport, so no OK ack clears the batch
	// behind the test's back and each recorded send is a real attempt.
	conn.respond = func(*types.PublishRequest) (*types.PublishResponse, error) {
		return nil, errors.New("peer unreachable")
	}
	s.SetConnection(conn)

	ctx := &fakeContext{index: 9, consistency: types.Sequential}
	require.NoError(t, s.Publish(ctx, "evt", nil))
	s.Commit(ctx, 9)

	s.handleAck(&types.PublishResponse{Status: types.PublishError, Index: 8})

	assert.Equal(t, uint64(8), s.CompleteIndex())
	assert.Len(t, s.pending, 1, "batch at 9 is still unacknowledged and must remain pending")

	time.Sleep(50 * time.Millisecond)
	sent := conn.Sent()
	assert.GreaterOrEqual(t, len(sent), 2, "a not-OK ack must trigger a resend on the attached connection")
}

func TestClearEventsIsIdempotentOnAlreadyAckedIndex(t *testing.T) {
	s := New(ID(1), time.Second)
	s.ClearEvents(3)
	s.ClearEvents(1)
	assert.Equal(t, uint64(3), s.CompleteIndex())
}

func TestHandleInboundPublishDispatchesToListeners(t *testing.T) {
	s := New(ID(1), time.Second)

	var got []byte
	s.OnEvent("ping", func(payload []byte) { got = payload })

	resp, err := s.HandleInboundPublish(nil, &types.PublishRequest{
		EventIndex: 4,
		Events:     []types.EventRecord{{Name: "ping", Payload: []byte("pong")}},
	})

	require.NoError(t, err)
	assert.Equal(t, types.PublishOK, resp.Status)
	assert.Equal(t, []byte("pong"), got)
}
