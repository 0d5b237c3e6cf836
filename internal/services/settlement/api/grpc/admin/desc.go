package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "settlement.admin.v1.AdminService"

const (
	setCommissionRateMethod       = "/" + ServiceName + "/SetCommissionRate"
	resolveDisputeMethod          = "/" + ServiceName + "/ResolveDispute"
	getReconciliationReportMethod = "/" + ServiceName + "/GetReconciliationReport"
)

// AdminServiceServer is the server API for the admin service. Requests and
// replies are JSON-shaped structpb documents.
type AdminServiceServer interface {
	SetCommissionRate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveDispute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReconciliationReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the admin service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetCommissionRate", Handler: unaryHandler(setCommissionRateMethod, AdminServiceServer.SetCommissionRate)},
		{MethodName: "ResolveDispute", Handler: unaryHandler(resolveDisputeMethod, AdminServiceServer.ResolveDispute)},
		{MethodName: "GetReconciliationReport", Handler: unaryHandler(getReconciliationReportMethod, AdminServiceServer.GetReconciliationReport)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/admin/v1/admin.proto",
}

// RegisterAdminServiceServer registers srv on s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(AdminServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(AdminServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(AdminServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AdminServiceClient is the client API for the admin service.
type AdminServiceClient interface {
	SetCommissionRate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ResolveDispute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetReconciliationReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type adminServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminServiceClient builds a client over cc.
func NewAdminServiceClient(cc grpc.ClientConnInterface) AdminServiceClient {
	return &adminServiceClient{cc: cc}
}

func (c *adminServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminServiceClient) SetCommissionRate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, setCommissionRateMethod, in, opts...)
}

func (c *adminServiceClient) ResolveDispute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, resolveDisputeMethod, in, opts...)
}

func (c *adminServiceClient) GetReconciliationReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getReconciliationReportMethod, in, opts...)
}
