package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "ota.v1.UpdateService"

	// ActorMetadataKey is the request metadata key carrying the caller identity.
	ActorMetadataKey = "x-ota-actor"

	startUpdateMethod  = "/" + ServiceName + "/StartUpdate"
	getStatusMethod    = "/" + ServiceName + "/GetStatus"
	cancelUpdateMethod = "/" + ServiceName + "/CancelUpdate"
)

// UpdateServiceServer is implemented by the transport adapter.
type UpdateServiceServer interface {
	StartUpdate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	CancelUpdate(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterUpdateServiceServer registers srv on the gRPC server.
func RegisterUpdateServiceServer(s grpc.ServiceRegistrar, srv UpdateServiceServer) {
	s.RegisterService(&updateServiceDesc, srv)
}

//nolint:gochecknoglobals // Service descriptors are package-level by gRPC convention.
var updateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UpdateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartUpdate",
			Handler:    startUpdateHandler,
		},
		{
			MethodName: "GetStatus",
			Handler:    getStatusHandler,
		},
		{
			MethodName: "CancelUpdate",
			Handler:    cancelUpdateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ota/v1/update.proto",
}

func startUpdateHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).StartUpdate(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: startUpdateMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).StartUpdate(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).GetStatus(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getStatusMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func cancelUpdateHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(UpdateServiceServer).CancelUpdate(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: cancelUpdateMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UpdateServiceServer).CancelUpdate(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

// UpdateServiceClient calls the UpdateService methods over a connection.
type UpdateServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewUpdateServiceClient returns a client bound to cc.
func NewUpdateServiceClient(cc grpc.ClientConnInterface) *UpdateServiceClient {
	return &UpdateServiceClient{cc: cc}
}

// StartUpdate asks the daemon to install the package described by in.
func (c *UpdateServiceClient) StartUpdate(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, startUpdateMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetStatus returns the latest published status.
func (c *UpdateServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// CancelUpdate cancels a pending decrypt-then-flash job.
func (c *UpdateServiceClient) CancelUpdate(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, cancelUpdateMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
