package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Server is the inbound side of the session transport: a gRPC server
// exposing the hand-registered Publish RPC, dispatching each inbound
// request to the handler installed for its session.
//
// Sessions register their inbound handler here directly (RegisterHandler),
// rather than through the Connection interface's Handle method: Handle
// exists for a future bidirectional-stream transport where the same
// logical Connection carries both directions, but this unary-RPC
// implementation needs a single process-wide dispatch table keyed by
// session ID, since any peer's gRPC client can reach any locally-hosted
// session.
type Server struct {
	grpcServer *grpc.Server

	mu       sync.RWMutex
	handlers map[uint64]session.PublishHandler
}

// NewServer creates a Server listening with insecure transport credentials
// and the JSON codec forced for every call, since there is no TLS material
// or protobuf codec to plug in here (see SPEC_FULL.md's ambient-stack
// notes on authentication being a non-goal).
func NewServer() *Server {
	s := &Server{handlers: make(map[uint64]session.PublishHandler)}
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// RegisterHandler installs fn as the inbound publish handler for sessionID.
func (s *Server) RegisterHandler(sessionID uint64, fn session.PublishHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[sessionID] = fn
}

// UnregisterHandler removes sessionID's inbound handler, typically called
// once its session closes.
func (s *Server) UnregisterHandler(sessionID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, sessionID)
}

// Publish implements PublishServer, routing each request to the handler
// registered for req.Session.
func (s *Server) Publish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error) {
	corrID := correlationIDFromContext(ctx)

	s.mu.RLock()
	fn, ok := s.handlers[req.Session]
	s.mu.RUnlock()

	if !ok {
		log.Logger.Warn().Uint64("session", req.Session).Str("correlation_id", corrID).Msg("publish request for unknown session")
		metrics.TransportRequestsTotal.WithLabelValues("unknown_session").Inc()
		return &types.PublishResponse{Status: types.PublishError, Error: "unknown session"}, nil
	}

	resp, err := fn(ctx, req)
	if err != nil {
		log.Logger.Error().Uint64("session", req.Session).Str("correlation_id", corrID).Err(err).Msg("publish handler failed")
		metrics.TransportRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TransportRequestsTotal.WithLabelValues(string(resp.Status)).Inc()
	return resp, nil
}

// correlationIDFromContext reads the id client.go's Publish attached to
// its outgoing call, or "" if the caller didn't set one (e.g. a bare gRPC
// client in a test).
func correlationIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(correlationIDMetadataKey)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Serve listens on addr and blocks serving gRPC requests until Stop is
// called or an unrecoverable listener error occurs.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server, waiting for in-flight RPCs to
// finish.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
