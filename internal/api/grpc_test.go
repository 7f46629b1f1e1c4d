package operatorapi

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aegis-sign/wcsigner/internal/pairing"
)

func dialOperator(t *testing.T, op Operator) (*OperatorClient, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterOperatorServer(srv, NewGRPCServer(op))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewOperatorClient(conn), conn
}

func TestGRPCPair(t *testing.T) {
	op := activeStub()
	client, _ := dialOperator(t, op)

	topic, err := client.Pair(context.Background(), "wc:abc@2?relay-protocol=irn&symKey=deadbeef")
	require.NoError(t, err)
	require.Equal(t, "abc", topic)
}

func TestGRPCPairMapsErrors(t *testing.T) {
	op := &stubOperator{pairFn: func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: busy", pairing.ErrAlreadyPairing)
	}}
	client, _ := dialOperator(t, op)

	_, err := client.Pair(context.Background(), "wc:abc@2")
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.Pair(context.Background(), " ")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCPairUnknownError(t *testing.T) {
	server := NewGRPCServer(&stubOperator{pairFn: func(context.Context, string) (string, error) {
		return "", fmt.Errorf("boom")
	}})
	_, err := server.Pair(context.Background(), wrapperspb.String("wc:abc@2"))
	require.Equal(t, codes.Internal, status.Code(err))
	require.Equal(t, "internal error", status.Convert(err).Message())
}

func TestGRPCListSessionsAndStatus(t *testing.T) {
	client, _ := dialOperator(t, activeStub())

	sessions, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]any)
	require.Equal(t, "abc", first["topic"])
	require.Equal(t, "ACTIVE", first["status"])

	snap, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc", snap["address"])
	require.Equal(t, "ACTIVE", snap["status"].(map[string]any)["state"])
}

func TestGRPCHealth(t *testing.T) {
	_, conn := dialOperator(t, &stubOperator{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
