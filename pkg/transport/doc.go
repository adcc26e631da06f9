/*
Package transport provides the gRPC-based realization of session.Connection
and session.ConnectionManager, the core's "transport layer" collaborator.

There is no api/proto package in this tree to generate client/server stubs
from, so this package hand-registers a grpc.ServiceDesc for a single unary
Publish method (service.go) and a JSON encoding.Codec (codec.go) in place
of a protobuf one. The result is a genuine google.golang.org/grpc server
and client, just without protoc in the build.

# Inbound dispatch

Server hosts one listener per process and routes every inbound Publish
call to the handler registered for the request's session ID
(RegisterHandler/UnregisterHandler), rather than per-connection, since a
unary RPC has no persistent connection object to hang a handler off of
the way session.Connection.Handle implies.

# Outbound dialing

Registry implements session.ConnectionManager, pooling one *grpc.ClientConn
per address and handing out a lightweight per-session wrapper
(clientConnection) on each Connection call.
*/
package transport
