package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/raftsession/pkg/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Registry implements session.ConnectionManager, dialing and pooling one
// *grpc.ClientConn per address, using grpc.NewClient with insecure
// transport credentials; mTLS is a non-goal here (authentication is
// explicitly out of scope).
type Registry struct {
	mu    sync.Mutex
	conns map[session.Address]*grpc.ClientConn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[session.Address]*grpc.ClientConn)}
}

// Connection resolves addr to a session.Connection, dialing a new
// *grpc.ClientConn on first use and reusing it for subsequent calls to the
// same address.
func (r *Registry) Connection(ctx context.Context, addr session.Address) (session.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cc, ok := r.conns[addr]
	if !ok {
		var err error
		cc, err = grpc.NewClient(
			string(addr),
			grpc.WithTransportCredentials(insecure.NewCredentials()), // #nosec G402
			grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		r.conns[addr] = cc
	}

	return &clientConnection{cc: cc}, nil
}

// Close tears down every pooled connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for addr, cc := range r.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing connection to %s: %w", addr, err)
		}
	}
	r.conns = make(map[session.Address]*grpc.ClientConn)
	return firstErr
}
