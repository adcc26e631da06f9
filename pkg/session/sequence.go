package session

// RegisterRequest parks fn under sequence, to run when SetRequestSequence
// later reaches it. Submissions must be admitted in strictly increasing
// sequence order with no gaps; the session holds them until then so the
// state machine sees a serialized stream even if the transport delivered
// them out of order or after a leader change.
func (s *Session) RegisterRequest(sequence uint64, fn func()) {
	s.commands[sequence] = fn
}

// SetRequestSequence raises request_sequence to seq if seq is higher, then
// releases at most the single callback parked at the sequence that was
// "next expected" before this raise. Draining is deliberately one-step:
// running that callback is expected to itself call SetRequestSequence
// again (or register a later callback), which is what lets a chain of
// out-of-order submissions resolve via mutual recursion instead of a loop
// here re-entering the map more than once per call.
func (s *Session) SetRequestSequence(seq uint64) {
	if seq <= s.requestSequence {
		return
	}
	next := s.requestSequence + 1
	s.requestSequence = seq
	if fn, ok := s.commands[next]; ok {
		delete(s.commands, next)
		fn()
	}
}

// RegisterSequenceQuery parks fn to run once command_sequence reaches seq.
// Registering at a seq already <= CommandSequence() is caller-defined
// behavior; this type does not check it, callers that need the rejection
// should compare against CommandSequence() first.
func (s *Session) RegisterSequenceQuery(seq uint64, fn func()) {
	s.appendQuery(s.sequenceQueries, seq, fn)
}

// RegisterIndexQuery parks fn to run once last_applied reaches index.
func (s *Session) RegisterIndexQuery(index uint64, fn func()) {
	s.appendQuery(s.indexQueries, index, fn)
}

// SetCommandSequence walks command_sequence forward from its current value
// through seq. At each step the counter is advanced before that step's
// sequence-queries are drained, so a query observing CommandSequence()
// from inside its own callback sees the step that triggered it, not a
// stale value. After the loop, request_sequence is caught up to seq: if
// any submissions remain parked, each missing sequence in
// (request_sequence, seq] is walked and its callback run if present;
// otherwise request_sequence jumps straight to seq.
func (s *Session) SetCommandSequence(seq uint64) {
	for i := s.commandSequence + 1; i <= seq; i++ {
		s.commandSequence = i
		s.drainQueries(s.sequenceQueries, i)
	}

	if seq <= s.requestSequence {
		return
	}
	if len(s.commands) == 0 {
		s.requestSequence = seq
		return
	}
	for i := s.requestSequence + 1; i <= seq; i++ {
		s.requestSequence = i
		if fn, ok := s.commands[i]; ok {
			delete(s.commands, i)
			fn()
		}
	}
}

// SetLastApplied walks last_applied forward from its current value through
// index, draining that step's index-queries after each advance.
func (s *Session) SetLastApplied(index uint64) {
	for i := s.lastApplied + 1; i <= index; i++ {
		s.lastApplied = i
		s.drainQueries(s.indexQueries, i)
	}
}

// appendQuery adds fn to the list parked under key in m, pulling a
// recycled slice from the query-list pool when key has no list yet, since
// drainQueries already needs the matching release half.
func (s *Session) appendQuery(m map[uint64][]func(), key uint64, fn func()) {
	list, ok := m[key]
	if !ok {
		list = s.queryListPool.Get().([]func())
	}
	m[key] = append(list, fn)
}

// drainQueries runs every callback parked under key in insertion order,
// then recycles the slice. If running those callbacks re-registers new
// entries under the same key — a query's own callback registering a new
// query for the sequence or index currently being drained — those entries
// are drained too, in the same logical step, before this call returns;
// entries registered for an already-passed earlier key are not retried
// here or by any later call.
func (s *Session) drainQueries(m map[uint64][]func(), key uint64) {
	for {
		list, ok := m[key]
		if !ok || len(list) == 0 {
			return
		}
		delete(m, key)
		for _, fn := range list {
			fn()
		}
		s.queryListPool.Put(list[:0])
	}
}
