package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/raftsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := &types.PublishRequest{Session: 7, EventIndex: 3, Events: []types.EventRecord{{Name: "x"}}}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out types.PublishRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, req.Session, out.Session)
	assert.Equal(t, req.EventIndex, out.EventIndex)
	assert.Equal(t, "x", out.Events[0].Name)
}

func TestServerRoutesPublishBySessionID(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer()
	srv.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	srv.grpcServer.RegisterService(&ServiceDesc, srv)
	go srv.grpcServer.Serve(lis)
	defer srv.Stop()

	var received *types.PublishRequest
	srv.RegisterHandler(42, func(ctx context.Context, req *types.PublishRequest) (*types.PublishResponse, error) {
		received = req
		return &types.PublishResponse{Status: types.PublishOK, Index: req.EventIndex}, nil
	})

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := &clientConnection{cc: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Publish(ctx, &types.PublishRequest{
		Session:    42,
		EventIndex: 9,
		Events:     []types.EventRecord{{Name: "created", Payload: []byte("x")}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.PublishOK, resp.Status)
	assert.Equal(t, uint64(9), resp.Index)

	require.NotNil(t, received)
	assert.Equal(t, uint64(42), received.Session)
}

func TestServerPublishUnknownSessionReturnsError(t *testing.T) {
	srv := NewServer()
	resp, err := srv.Publish(context.Background(), &types.PublishRequest{Session: 1})
	require.NoError(t, err)
	assert.Equal(t, types.PublishError, resp.Status)
}
