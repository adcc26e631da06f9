package session

import (
	"context"

	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/types"
)

// Event is a single (name, payload) pair produced by a command during its
// application.
type Event struct {
	Name    string
	Payload []byte
}

// EventHolder is a batch of events produced while applying a single log
// entry. It is created on the first publish at a given index and finalized
// by Commit, which enqueues it for delivery and returns Done so the caller
// can await the client's acknowledgment.
type EventHolder struct {
	eventIndex    uint64
	previousIndex uint64
	events        []Event
	done          chan struct{}
}

func newEventHolder(eventIndex, previousIndex uint64) *EventHolder {
	return &EventHolder{eventIndex: eventIndex, previousIndex: previousIndex, done: make(chan struct{})}
}

// Done returns a channel closed once the batch has been acknowledged, or,
// for a session that expires with the batch still pending, closed anyway so
// waiters unblock (see Session.Expire).
func (b *EventHolder) Done() <-chan struct{} { return b.done }

func (b *EventHolder) signal() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// Publish records that the command currently applying at ctx.Index() wants
// to emit name/payload to the client. It is only valid while a command is
// applying (ctx.Consistency() != types.None); calling it outside a command
// returns ErrInvalidState, and calling it on an expired session returns
// ErrExpired so the caller can distinguish "wrong call site" from "too
// late" without inspecting session state itself.
//
// If complete_index has already advanced past the current index the event
// is silently dropped: the client acknowledged receipt of it via another
// replica's delivery before this one got around to producing it.
func (s *Session) Publish(ctx Context, name string, payload []byte) error {
	if s.expired {
		return ErrExpired
	}
	if s.closed {
		return ErrInvalidState
	}
	if ctx == nil || ctx.Consistency() == types.None {
		return ErrInvalidState
	}

	i := ctx.Index()
	if s.completeIndex > i {
		return nil
	}

	if s.currentBatch == nil || s.currentBatch.eventIndex != i {
		prev := s.eventIndex
		s.currentBatch = newEventHolder(i, prev)
		s.eventIndex = i
	}
	s.currentBatch.events = append(s.currentBatch.events, Event{Name: name, Payload: payload})
	return nil
}

// Commit finalizes the event batch open at index, if any, enqueuing it on
// the outbound queue and initiating its send. It returns the batch's
// completion channel so the caller can await delivery, or nil if no batch
// was open at index.
func (s *Session) Commit(ctx Context, index uint64) <-chan struct{} {
	if s.currentBatch == nil || s.currentBatch.eventIndex != index {
		return nil
	}
	batch := s.currentBatch
	s.currentBatch = nil
	s.pending = append(s.pending, batch)
	s.dispatch(ctx, batch)
	return batch.Done()
}

// dispatch implements the send policy: linearizable events on the
// synchronous apply path are sent at once (dialing the session's last-known
// address if no connection is attached), sequential events ride only the already-attached
// connection and are otherwise left for the next resend.
func (s *Session) dispatch(ctx Context, batch *EventHolder) {
	linearizable := ctx.Synchronous() && ctx.Consistency() == types.Linearizable

	if linearizable {
		if s.connection != nil {
			s.sendAsync(s.connection, batch)
			return
		}
		if s.address == "" {
			return
		}
		cm := ctx.Connections()
		if cm == nil {
			return
		}
		addr := s.address
		go func() {
			conn, err := cm.Connection(context.Background(), addr)
			if err != nil {
				log.Logger.Warn().Err(err).Str("address", string(addr)).Msg("failed to dial session peer for linearizable publish")
				return
			}
			s.postToExecutor(func() {
				s.connection = conn
				s.sendAsync(conn, batch)
			})
		}()
		return
	}

	if ctx.Consistency() != types.Linearizable {
		if s.connection == nil {
			return
		}
		s.sendAsync(s.connection, batch)
	}
}

// sendAsync performs the publish RPC on its own goroutine, since the
// session's executor must never block on I/O, and posts the resulting ack
// handling back onto the executor where it can safely touch session state.
func (s *Session) sendAsync(conn Connection, batch *EventHolder) {
	req := s.buildPublishRequest(batch)
	go func() {
		resp, err := conn.Publish(context.Background(), req)
		s.postToExecutor(func() {
			if err != nil {
				te := &TransportError{Err: err}
				log.WithSessionID(uint64(s.id)).Warn().Err(te).Msg("transport error publishing event batch, awaiting reconnect")
				return
			}
			if ackErr := s.handleAck(resp); ackErr != nil {
				log.WithSessionID(uint64(s.id)).Debug().Err(ackErr).Msg("ignoring stale publish ack")
			}
		})
	}()
}

func (s *Session) buildPublishRequest(batch *EventHolder) *types.PublishRequest {
	prev := batch.previousIndex
	if s.completeIndex > prev {
		prev = s.completeIndex
	}
	records := make([]types.EventRecord, len(batch.events))
	for i, evt := range batch.events {
		records[i] = types.EventRecord{Name: evt.Name, Payload: evt.Payload}
	}
	return &types.PublishRequest{
		Session:       uint64(s.id),
		EventIndex:    batch.eventIndex,
		PreviousIndex: prev,
		Events:        records,
	}
}

func (s *Session) postToExecutor(fn func()) {
	if s.executor != nil {
		s.executor.Submit(fn)
		return
	}
	fn()
}

// handleAck processes a publish-response. An OK status clears every batch
// through the acknowledged index; any other status advances complete_index
// the same way and then re-sends whatever is left, per resend_events.
// If the acknowledged index is at or below complete_index already (the
// client acked this index via another replica's delivery, or the ack
// arrived twice), handleAck still applies it — ClearEvents and
// resendEvents are themselves no-ops past complete_index — but reports a
// *StaleAckError so the caller can log the condition.
func (s *Session) handleAck(resp *types.PublishResponse) error {
	if resp == nil {
		return nil
	}

	var staleErr error
	if resp.Index <= s.completeIndex {
		staleErr = &StaleAckError{Index: resp.Index, CompleteIndex: s.completeIndex}
	}

	if resp.Status == types.PublishOK {
		s.ClearEvents(resp.Index)
	} else {
		s.resendEvents(resp.Index)
	}
	return staleErr
}

// PendingEventBatches reports how many event batches are enqueued awaiting
// acknowledgment, for metrics/inspection use.
func (s *Session) PendingEventBatches() int {
	return len(s.pending)
}

// ClearEvents pops every pending batch with event_index <= k, signaling
// each one's completion, and raises complete_index to max(complete_index, k).
func (s *Session) ClearEvents(k uint64) {
	if k > s.completeIndex {
		s.completeIndex = k
	}
	for len(s.pending) > 0 && s.pending[0].eventIndex <= k {
		batch := s.pending[0]
		s.pending = s.pending[1:]
		batch.signal()
	}
}

// resendEvents advances complete_index via ClearEvents(k) and re-sends
// every batch still pending, in order, on the currently attached
// connection. Nothing happens if no connection is attached; the client
// will trigger another resend on reconnect.
func (s *Session) resendEvents(k uint64) {
	s.ClearEvents(k)
	if s.connection == nil {
		return
	}
	for _, batch := range s.pending {
		s.sendAsync(s.connection, batch)
	}
}
