// Package tracker defines the gRPC contract between storage nodes, the
// master and the gateway. Messages are google.protobuf.Struct values; the
// typed helpers in messages.go convert them.
package tracker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "fdfs.tracker.Tracker"

const (
	heartbeatMethod = "/" + ServiceName + "/Heartbeat"
	assignMethod    = "/" + ServiceName + "/Assign"
	locateMethod    = "/" + ServiceName + "/Locate"
)

type TrackerServer interface {
	Heartbeat(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Assign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Locate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterTrackerServer(s grpc.ServiceRegistrar, srv TrackerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "Assign", Handler: assignHandler},
		{MethodName: "Locate", Handler: locateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tracker",
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: heartbeatMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerServer).Heartbeat(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func assignHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).Assign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: assignMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerServer).Assign(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func locateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).Locate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: locateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerServer).Locate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
