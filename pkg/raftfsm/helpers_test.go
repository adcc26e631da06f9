package raftfsm

import (
	"bytes"
	"io"
)

// memSnapshotSink is a minimal raft.SnapshotSink backed by an in-memory
// buffer, enough to drive Persist/Restore round-trip tests without a real
// raft.FileSnapshotStore.
type memSnapshotSink struct {
	buf bytes.Buffer
}

func (s *memSnapshotSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memSnapshotSink) Close() error                 { return nil }
func (s *memSnapshotSink) ID() string                   { return "test-snapshot" }
func (s *memSnapshotSink) Cancel() error                { return nil }

func (s *memSnapshotSink) reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
