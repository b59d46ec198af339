package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stakepool/crypto"
	"stakepool/native/staking"
)

// GRPCServiceName is the fully qualified name of the staking service.
const GRPCServiceName = "stakepool.v1.Staking"

// StakingServer is the gRPC surface of the engine. Requests and responses are
// google.protobuf.Struct messages carrying the same fields as the HTTP API.
type StakingServer interface {
	Stake(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReward(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Exit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Earned(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pool(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NotifyRewardAmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetRewardsDuration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetRewardsCycle(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structHandler func(StakingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structHandler) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StakingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GRPCServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(StakingServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// StakingServiceDesc describes the staking service for grpc.Server.RegisterService.
var StakingServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*StakingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Stake", StakingServer.Stake),
		unaryMethod("Withdraw", StakingServer.Withdraw),
		unaryMethod("GetReward", StakingServer.GetReward),
		unaryMethod("Exit", StakingServer.Exit),
		unaryMethod("Earned", StakingServer.Earned),
		unaryMethod("Pool", StakingServer.Pool),
		unaryMethod("NotifyRewardAmount", StakingServer.NotifyRewardAmount),
		unaryMethod("SetRewardsDuration", StakingServer.SetRewardsDuration),
		unaryMethod("ResetRewardsCycle", StakingServer.ResetRewardsCycle),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakepool/v1/staking.proto",
}

// GRPCService implements StakingServer on top of the engine.
type GRPCService struct {
	engine *staking.Engine
	auth   *Authenticator
	logger *slog.Logger
}

// NewGRPCService constructs the gRPC facade.
func NewGRPCService(engine *staking.Engine, auth *Authenticator, logger *slog.Logger) (*GRPCService, error) {
	if engine == nil || auth == nil {
		return nil, errors.New("engine and authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCService{engine: engine, auth: auth, logger: logger.With("component", "grpc")}, nil
}

// NewGRPCServer builds a server with tracing interceptors, the staking service
// and the standard health service registered.
func NewGRPCServer(svc *GRPCService, opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	}, opts...)
	srv := grpc.NewServer(options...)
	srv.RegisterService(&StakingServiceDesc, svc)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(GRPCServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	return srv
}

func (g *GRPCService) caller(ctx context.Context) (common.Address, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return common.Address{}, status.Error(codes.Unauthenticated, errMissingToken.Error())
	}
	caller, err := g.auth.Caller(values[0])
	if err != nil {
		return common.Address{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return caller, nil
}

// grpcError maps engine errors onto gRPC status codes.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	if errors.Is(err, staking.ErrUnauthorized) {
		return status.Error(codes.PermissionDenied, err.Error())
	}
	switch staking.Classify(err) {
	case staking.ClassCaller:
		return status.Error(codes.InvalidArgument, err.Error())
	case staking.ClassState:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func structAmount(in *structpb.Struct) (*uint256.Int, error) {
	field, ok := in.GetFields()["amount"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "amount required")
	}
	amount, err := parseAmount(field.GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return amount, nil
}

func structUint(in *structpb.Struct, key string) (uint64, error) {
	field, ok := in.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s required", key)
	}
	switch kind := field.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue < 0 || kind.NumberValue != float64(uint64(kind.NumberValue)) {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be a non-negative integer", key)
		}
		return uint64(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		v, err := strconv.ParseUint(kind.StringValue, 10, 64)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", key, kind.StringValue)
		}
		return v, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s", key)
	}
}

// mutate authenticates, runs fn and renders the result.
func (g *GRPCService) mutate(ctx context.Context, op string, fn func(context.Context, common.Address) error, render func(common.Address) (interface{}, error)) (*structpb.Struct, error) {
	caller, err := g.caller(ctx)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	err = fn(ctx, caller)
	observeEngine(g.engine, "grpc."+op, started, err)
	if err != nil {
		g.logger.Info("request rejected", "operation", op, "account", caller.Hex(), "error", err)
		return nil, grpcError(err)
	}
	view, err := render(caller)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(view)
}

func (g *GRPCService) accountView(caller common.Address) (interface{}, error) {
	return g.engine.Account(caller)
}

func (g *GRPCService) poolView(common.Address) (interface{}, error) {
	return g.engine.Pool()
}

// Stake implements StakingServer.
func (g *GRPCService) Stake(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, err := structAmount(in)
	if err != nil {
		return nil, err
	}
	return g.mutate(ctx, "stake", func(ctx context.Context, caller common.Address) error {
		return g.engine.Stake(ctx, caller, amount)
	}, g.accountView)
}

// Withdraw implements StakingServer.
func (g *GRPCService) Withdraw(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, err := structAmount(in)
	if err != nil {
		return nil, err
	}
	return g.mutate(ctx, "withdraw", func(ctx context.Context, caller common.Address) error {
		return g.engine.Withdraw(ctx, caller, amount)
	}, g.accountView)
}

// GetReward implements StakingServer.
func (g *GRPCService) GetReward(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return g.mutate(ctx, "getReward", g.engine.GetReward, g.accountView)
}

// Exit implements StakingServer.
func (g *GRPCService) Exit(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return g.mutate(ctx, "exit", g.engine.Exit, g.accountView)
}

// Earned implements StakingServer. The account field selects whose rewards to
// report.
func (g *GRPCService) Earned(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := in.GetFields()["account"].GetStringValue()
	account, err := crypto.ParseAddress(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	earned, err := g.engine.Earned(account)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]string{"account": account.Hex(), "earned": earned.Dec()})
}

// Pool implements StakingServer.
func (g *GRPCService) Pool(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	view, err := g.engine.Pool()
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(view)
}

// NotifyRewardAmount implements StakingServer.
func (g *GRPCService) NotifyRewardAmount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, err := structAmount(in)
	if err != nil {
		return nil, err
	}
	return g.mutate(ctx, "notifyRewardAmount", func(ctx context.Context, caller common.Address) error {
		return g.engine.NotifyRewardAmount(ctx, caller, amount)
	}, g.poolView)
}

// SetRewardsDuration implements StakingServer.
func (g *GRPCService) SetRewardsDuration(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	seconds, err := structUint(in, "seconds")
	if err != nil {
		return nil, err
	}
	return g.mutate(ctx, "setRewardsDuration", func(ctx context.Context, caller common.Address) error {
		return g.engine.SetRewardsDuration(ctx, caller, seconds)
	}, g.poolView)
}

// ResetRewardsCycle implements StakingServer.
func (g *GRPCService) ResetRewardsCycle(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return g.mutate(ctx, "resetRewardsCycle", g.engine.ResetRewardsCycle, g.poolView)
}
