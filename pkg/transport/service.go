package transport

import (
	"context"

	"github.com/cuemby/raftsession/pkg/types"
	"google.golang.org/grpc"
)

// PublishServer is implemented by whatever hosts the server side of the
// publish RPC. It is hand-registered below rather than generated by
// protoc, since this tree has no api/proto package.
type PublishServer interface {
	Publish(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error)
}

const (
	serviceName   = "raftsession.Transport"
	publishMethod = "/raftsession.Transport/Publish"

	// correlationIDMetadataKey carries a per-RPC github.com/google/uuid
	// value between client.go's Publish and server.go's Publish handler,
	// so a log line on either side of the wire can be tied back to the
	// same outbound call without a tracing library.
	correlationIDMetadataKey = "x-correlation-id"
)

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PublishServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PublishServer).Publish(ctx, req.(*types.PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a service with a single unary Publish method. Registering
// it against a *grpc.Server gives this package a real grpc.ServiceDesc
// wired end to end, satisfied by the JSON codec in codec.go instead of
// protobuf.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PublishServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/service.go",
}
