package transport

import (
	"context"
	"sync"

	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/types"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// clientConnection implements session.Connection over a pooled
// *grpc.ClientConn. The underlying transport connection is shared across
// every session talking to the same address (see Registry); this wrapper
// is not — each call to Registry.Connection returns a fresh wrapper so
// each session gets its own Handle slot, matching session.Connection's
// single-active-handler contract.
type clientConnection struct {
	cc *grpc.ClientConn

	mu      sync.Mutex
	handler session.PublishHandler
}

// Publish sends req over the pooled connection and waits for the peer's
// response. Every call carries a fresh correlation id in outgoing gRPC
// metadata, so this send and the peer's handling of it can be tied
// together in logs across the two processes.
func (c *clientConnection) Publish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, correlationIDMetadataKey, uuid.NewString())
	resp := new(types.PublishResponse)
	if err := c.cc.Invoke(ctx, publishMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Handle records fn as this connection's inbound handler. In this
// unary-RPC transport, inbound requests actually arrive at Server and are
// dispatched by session ID (see server.go); Handle only stores fn so that
// session.Connection's contract holds, and nothing in this package reads
// it back.
func (c *clientConnection) Handle(fn session.PublishHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}
