package operatorapi

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

const (
	operatorServiceName = "wcsigner.operator.v1.Operator"

	methodPair         = "/" + operatorServiceName + "/Pair"
	methodListSessions = "/" + operatorServiceName + "/ListSessions"
	methodStatus       = "/" + operatorServiceName + "/Status"
)

// OperatorServer 是 wcsigner.operator.v1.Operator 的服务端接口。
// 消息使用 well-known types，无需生成代码。
type OperatorServer interface {
	Pair(ctx context.Context, uri *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error)
	Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error)
}

// OperatorServiceDesc 描述 Operator 服务，供 grpc.Server.RegisterService 使用。
var OperatorServiceDesc = grpc.ServiceDesc{
	ServiceName: operatorServiceName,
	HandlerType: (*OperatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pair", Handler: pairHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wcsigner/operator/v1/operator.proto",
}

// RegisterOperatorServer 在 registrar 上注册 srv。
func RegisterOperatorServer(registrar grpc.ServiceRegistrar, srv OperatorServer) {
	registrar.RegisterService(&OperatorServiceDesc, srv)
}

// GRPCServer 实现 OperatorServer。
type GRPCServer struct {
	operator Operator
}

// NewGRPCServer 构造 gRPC server。
func NewGRPCServer(operator Operator) *GRPCServer {
	if operator == nil {
		panic("operator is required")
	}
	return &GRPCServer{operator: operator}
}

// Pair 透传配对 URI，返回 topic。
func (s *GRPCServer) Pair(ctx context.Context, uri *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if uri == nil || strings.TrimSpace(uri.GetValue()) == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	topic, err := s.operator.Pair(ctx, uri.GetValue())
	if err != nil {
		return nil, s.grpcError(err)
	}
	return wrapperspb.String(topic), nil
}

// ListSessions 以 JSON 对象列表返回所有会话。
func (s *GRPCServer) ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	sessions := s.operator.Sessions()
	values := make([]any, 0, len(sessions))
	for _, sess := range sessions {
		v, err := toJSONValue(sess)
		if err != nil {
			return nil, status.Error(codes.Internal, "encode session")
		}
		values = append(values, v)
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode sessions")
	}
	return list, nil
}

// Status 返回展示层状态快照。
func (s *GRPCServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	v, err := toJSONValue(s.operator.Status())
	if err != nil {
		return nil, status.Error(codes.Internal, "encode status")
	}
	out, err := structpb.NewStruct(v.(map[string]any))
	if err != nil {
		return nil, status.Error(codes.Internal, "encode status")
	}
	return out, nil
}

func (s *GRPCServer) grpcError(err error) error {
	if apiErr, ok := apierrors.FromError(err); ok {
		return status.Error(apierrors.GRPCStatus(apiErr.Code), err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// toJSONValue 经 JSON 往返把结构体转为 structpb 可接受的通用值。
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pairHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperatorServer).Pair(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPair}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OperatorServer).Pair(ctx, req.(*wrapperspb.StringValue))
	})
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperatorServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListSessions}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OperatorServer).ListSessions(ctx, req.(*emptypb.Empty))
	})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperatorServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OperatorServer).Status(ctx, req.(*emptypb.Empty))
	})
}

// OperatorClient 是 Operator 服务的客户端。
type OperatorClient struct {
	cc grpc.ClientConnInterface
}

// NewOperatorClient 基于已建立的连接构造客户端。
func NewOperatorClient(cc grpc.ClientConnInterface) *OperatorClient {
	return &OperatorClient{cc: cc}
}

// Pair 请求服务端配对 uri。
func (c *OperatorClient) Pair(ctx context.Context, uri string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodPair, wrapperspb.String(uri), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// ListSessions 返回服务端会话列表。
func (c *OperatorClient) ListSessions(ctx context.Context, opts ...grpc.CallOption) ([]any, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListSessions, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsSlice(), nil
}

// Status 返回服务端状态快照。
func (c *OperatorClient) Status(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
