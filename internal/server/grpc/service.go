package grpcserver

import (
	"context"

	"github.com/rzbill/flolog/internal/cluster"
	"google.golang.org/grpc"
)

const (
	healthService    = "flolog.v1.Health"
	clusterService   = "flolog.v1.Cluster"
	logUnitService   = "flolog.v1.LogUnit"
	sequencerService = "flolog.v1.Sequencer"
	listenerService  = "flolog.v1.Listener"
)

// HealthServer reports node health.
type HealthServer interface {
	Check(context.Context, *Empty) (*HealthResponse, error)
}

// ClusterServer answers membership traffic: probes, layout fetches and
// stream announcements.
type ClusterServer interface {
	Probe(context.Context, *cluster.ProbeRequest) (*cluster.ProbeResponse, error)
	GetLayout(context.Context, *Empty) (*LayoutResponse, error)
	StreamCreated(context.Context, *cluster.StreamCreated) (*Ack, error)
}

// LogUnitServer exposes the node's write-once address space.
type LogUnitServer interface {
	Write(context.Context, *WriteRequest) (*Ack, error)
	Read(context.Context, *AddrRequest) (*ReadResponse, error)
	Tail(context.Context, *Empty) (*AddrResponse, error)
	TrimMark(context.Context, *Empty) (*AddrResponse, error)
	Trim(context.Context, *AddrRequest) (*Ack, error)
	Seal(context.Context, *SealRequest) (*Ack, error)
}

// SequencerServer exposes the node's sequencer.
type SequencerServer interface {
	Next(context.Context, *NextRequest) (*NextResponse, error)
	Current(context.Context, *CurrentRequest) (*AddrResponse, error)
	Tail(context.Context, *Empty) (*AddrResponse, error)
}

// ListenerServer streams listener batches to a remote subscriber.
type ListenerServer interface {
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

func fullMethod(service, method string) string { return "/" + service + "/" + method }

// unary builds a method descriptor that decodes Req, runs the interceptor
// chain and dispatches to call.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := fullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

var healthServiceDesc = grpc.ServiceDesc{
	ServiceName: healthService,
	HandlerType: (*HealthServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(healthService, "Check", HealthServer.Check),
	},
	Metadata: "flolog/v1",
}

var clusterServiceDesc = grpc.ServiceDesc{
	ServiceName: clusterService,
	HandlerType: (*ClusterServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(clusterService, "Probe", ClusterServer.Probe),
		unary(clusterService, "GetLayout", ClusterServer.GetLayout),
		unary(clusterService, "StreamCreated", ClusterServer.StreamCreated),
	},
	Metadata: "flolog/v1",
}

var logUnitServiceDesc = grpc.ServiceDesc{
	ServiceName: logUnitService,
	HandlerType: (*LogUnitServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(logUnitService, "Write", LogUnitServer.Write),
		unary(logUnitService, "Read", LogUnitServer.Read),
		unary(logUnitService, "Tail", LogUnitServer.Tail),
		unary(logUnitService, "TrimMark", LogUnitServer.TrimMark),
		unary(logUnitService, "Trim", LogUnitServer.Trim),
		unary(logUnitService, "Seal", LogUnitServer.Seal),
	},
	Metadata: "flolog/v1",
}

var sequencerServiceDesc = grpc.ServiceDesc{
	ServiceName: sequencerService,
	HandlerType: (*SequencerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(sequencerService, "Next", SequencerServer.Next),
		unary(sequencerService, "Current", SequencerServer.Current),
		unary(sequencerService, "Tail", SequencerServer.Tail),
	},
	Metadata: "flolog/v1",
}

var listenerServiceDesc = grpc.ServiceDesc{
	ServiceName: listenerService,
	HandlerType: (*ListenerServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(SubscribeRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(ListenerServer).Subscribe(in, stream)
		},
	}},
	Metadata: "flolog/v1",
}
