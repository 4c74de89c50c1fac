package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Server is the fan-out gRPC surface (spec §4.6 three subscriber
// interfaces plus §6 snapshot query).
type Server interface {
	StreamEvents(*Empty, EventStream) error
	StreamAlerts(*Empty, AlertStream) error
	ListLive(*Empty, ProcessStream) error
	GetProcess(context.Context, *ProcessQuery) (*ProcessRecord, error)
}

// EventStream is the server-side handle for StreamEvents, sending one
// EventMsg per delivered event.
type EventStream interface {
	Send(*EventMsg) error
	Context() context.Context
}

// AlertStream is the server-side handle for StreamAlerts.
type AlertStream interface {
	Send(*AlertMsg) error
	Context() context.Context
}

// ProcessStream is the server-side handle for ListLive.
type ProcessStream interface {
	Send(*ProcessRecord) error
	Context() context.Context
}

type eventServerStream struct{ grpc.ServerStream }

func (x *eventServerStream) Send(m *EventMsg) error { return x.ServerStream.SendMsg(m) }

type alertServerStream struct{ grpc.ServerStream }

func (x *alertServerStream) Send(m *AlertMsg) error { return x.ServerStream.SendMsg(m) }

type processServerStream struct{ grpc.ServerStream }

func (x *processServerStream) Send(m *ProcessRecord) error { return x.ServerStream.SendMsg(m) }

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).StreamEvents(req, &eventServerStream{stream})
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	req := new(Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).StreamAlerts(req, &alertServerStream{stream})
}

func listLiveHandler(srv any, stream grpc.ServerStream) error {
	req := new(Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).ListLive(req, &processServerStream{stream})
}

func getProcessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProcessQuery)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sentryd.Fanout/GetProcess"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetProcess(ctx, req.(*ProcessQuery))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of a generated
// grpc.ServiceDesc; registered the same way protoc-gen-go-grpc output
// would be.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sentryd.Fanout",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProcess", Handler: getProcessHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
		{StreamName: "StreamAlerts", Handler: streamAlertsHandler, ServerStreams: true},
		{StreamName: "ListLive", Handler: listLiveHandler, ServerStreams: true},
	},
	Metadata: "sentryd/fanout.proto",
}

// RegisterServer registers srv on s under ServiceDesc, and installs
// this package's protowire codec so the server negotiates it.
func RegisterServer(s *grpc.Server, srv Server) {
	RegisterCodec()
	s.RegisterService(&ServiceDesc, srv)
}
