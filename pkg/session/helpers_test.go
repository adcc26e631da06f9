package session

import (
	"context"
	"sync"

	"github.com/cuemby/raftsession/pkg/types"
)

// fakeContext is a minimal Context implementation for exercising Publish
// and Commit without raftfsm's applyContext.
type fakeContext struct {
	index       uint64
	consistency types.Consistency
	synchronous bool
	connections ConnectionManager
}

func (c *fakeContext) Index() uint64                     { return c.index }
func (c *fakeContext) Consistency() types.Consistency     { return c.consistency }
func (c *fakeContext) Synchronous() bool                  { return c.synchronous }
func (c *fakeContext) Connections() ConnectionManager     { return c.connections }

// fakeConnection records every publish request sent to it and answers with
// a scripted response (or error) per call.
type fakeConnection struct {
	mu       sync.Mutex
	sent     []*types.PublishRequest
	handler  PublishHandler
	respond  func(*types.PublishRequest) (*types.PublishResponse, error)
}

func (c *fakeConnection) Publish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error) {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return &types.PublishResponse{Status: types.PublishOK, Index: req.EventIndex}, nil
}

func (c *fakeConnection) Handle(fn PublishHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *fakeConnection) Sent() []*types.PublishRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.PublishRequest, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeConnectionManager struct {
	mu    sync.Mutex
	conns map[Address]Connection
	err   error
}

func newFakeConnectionManager() *fakeConnectionManager {
	return &fakeConnectionManager{conns: make(map[Address]Connection)}
}

func (m *fakeConnectionManager) Connection(ctx context.Context, addr Address) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.conns[addr]
	if !ok {
		c = &fakeConnection{}
		m.conns[addr] = c
	}
	return c, nil
}
