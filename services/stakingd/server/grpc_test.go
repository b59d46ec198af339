package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

func dialGRPC(t *testing.T, h *harness) *grpc.ClientConn {
	t.Helper()
	svc, err := NewGRPCService(h.runtime.Engine, h.auth, nil)
	require.NoError(t, err)
	srv := NewGRPCServer(svc)

	listener := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, h *harness, method string, caller *common.Address, fields map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if caller != nil {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+h.token(*caller))
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+GRPCServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCStakeAndEarned(t *testing.T) {
	h := newHarness(t)
	conn := dialGRPC(t, h)
	alice := aliceAddr
	owner := ownerAddr

	h.expect(200, "POST", "/v1/faucet/mint", &alice, faucetRequest{Token: "stake", Amount: "100"})
	h.expect(200, "POST", "/v1/tokens/stake/approve", &alice, amountRequest{Amount: "100"})
	h.expect(200, "POST", "/v1/tokens/reward/approve", &owner, amountRequest{Amount: "1000"})
	h.expect(200, "POST", "/v1/admin/fund", &owner, amountRequest{Amount: "1000"})

	out, err := invoke(t, conn, h, "Stake", &alice, map[string]interface{}{"amount": "100"})
	require.NoError(t, err)
	require.Equal(t, "100", out.GetFields()["staked"].GetStringValue())

	_, err = invoke(t, conn, h, "NotifyRewardAmount", &owner, map[string]interface{}{"amount": "1000"})
	require.NoError(t, err)
	h.clock.Advance(5)

	out, err = invoke(t, conn, h, "Earned", nil, map[string]interface{}{"account": alice.Hex()})
	require.NoError(t, err)
	require.Equal(t, "50", out.GetFields()["earned"].GetStringValue())

	out, err = invoke(t, conn, h, "Pool", nil, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, "10", out.GetFields()["rewardRate"].GetStringValue())
	require.True(t, out.GetFields()["cycle"].GetStructValue().GetFields()["isActive"].GetBoolValue())

	out, err = invoke(t, conn, h, "Exit", &alice, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, "0", out.GetFields()["staked"].GetStringValue())
}

func TestGRPCStatusCodes(t *testing.T) {
	h := newHarness(t)
	conn := dialGRPC(t, h)
	alice := aliceAddr
	owner := ownerAddr

	_, err := invoke(t, conn, h, "Stake", nil, map[string]interface{}{"amount": "1"})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = invoke(t, conn, h, "Stake", &alice, map[string]interface{}{"amount": "0"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, h, "ResetRewardsCycle", &alice, map[string]interface{}{})
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = invoke(t, conn, h, "NotifyRewardAmount", &owner, map[string]interface{}{"amount": "1000"})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = invoke(t, conn, h, "SetRewardsDuration", &owner, map[string]interface{}{"seconds": -3})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err := invoke(t, conn, h, "SetRewardsDuration", &owner, map[string]interface{}{"seconds": 300})
	require.NoError(t, err)
	require.Equal(t, float64(300), out.GetFields()["duration"].GetNumberValue())

	_, err = invoke(t, conn, h, "Earned", nil, map[string]interface{}{"account": "nope"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	h := newHarness(t)
	conn := dialGRPC(t, h)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: GRPCServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
