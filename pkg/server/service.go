package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "stompguard.admin.v1.Admin"

// full method names, shared with the client
const (
	MethodListLocks       = "/" + ServiceName + "/ListLocks"
	MethodContentionStats = "/" + ServiceName + "/ContentionStats"
	MethodPolicies        = "/" + ServiceName + "/Policies"
	MethodResolveKey      = "/" + ServiceName + "/ResolveKey"
)

// AdminServer is the admin service. Payloads are protobuf well-known types
// so the service needs no generated code.
type AdminServer interface {
	ListLocks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ContentionStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Policies(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// request fields: class, scope
	ResolveKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListLocks", Handler: emptyHandler(MethodListLocks, AdminServer.ListLocks)},
		{MethodName: "ContentionStats", Handler: emptyHandler(MethodContentionStats, AdminServer.ContentionStats)},
		{MethodName: "Policies", Handler: emptyHandler(MethodPolicies, AdminServer.Policies)},
		{MethodName: "ResolveKey", Handler: resolveKeyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stompguard/admin/v1/admin.proto",
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

type emptyMethod func(AdminServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func emptyHandler(fullMethod string, call emptyMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func resolveKeyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ResolveKey(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodResolveKey}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ResolveKey(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
