package transport

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"gridcache/internal/wire"
)

const serviceName = "gridcache.Replica"

// serviceDesc describes the replica service. Requests and responses are
// wire messages encoded by wire.Codec, so no generated code is involved.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: applyHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "NextSeq", Handler: nextSeqHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gridcache/replica",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.ApplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Handler).HandleApply(ctx, req.(*wire.ApplyRequest))
		return resp, ToStatus(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Apply")}, call)
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Handler).HandleGet(ctx, req.(*wire.GetRequest))
		return resp, ToStatus(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Get")}, call)
}

func nextSeqHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.SeqRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Handler).HandleNextSeq(ctx, req.(*wire.SeqRequest))
		return resp, ToStatus(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("NextSeq")}, call)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Handler).HandlePing(ctx, req.(*wire.PingRequest))
		return resp, ToStatus(err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Ping")}, call)
}

// Server serves a Handler over gRPC.
type Server struct {
	grpc   *grpc.Server
	logger *zap.Logger
}

// NewServer creates a gRPC server for h.
func NewServer(h Handler, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append(opts,
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.ChainUnaryInterceptor(serverMetrics),
	)
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, h)
	return &Server{grpc: s, logger: logger}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("replica service listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop stops the server, waiting for in-flight calls.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func serverMetrics(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	rpcHandled.WithLabelValues(info.FullMethod, result).Inc()
	return resp, err
}
