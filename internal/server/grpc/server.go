package grpcserver

import (
	"context"
	"net"
	"sync"

	"github.com/rzbill/flolog/internal/runtime"
	"google.golang.org/grpc"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt   *runtime.Runtime
	grpc *grpc.Server
	lis  net.Listener

	// quit ends open subscriptions so GracefulStop can finish.
	quit     chan struct{}
	quitOnce sync.Once
}

// New constructs a gRPC server and registers every node service.
func New(rt *runtime.Runtime, opts ...grpc.ServerOption) *Server {
	s := &Server{rt: rt, grpc: grpc.NewServer(opts...), quit: make(chan struct{})}
	s.grpc.RegisterService(&healthServiceDesc, &healthSvc{rt: rt})
	s.grpc.RegisterService(&clusterServiceDesc, &clusterSvc{rt: rt})
	s.grpc.RegisterService(&logUnitServiceDesc, &logUnitSvc{rt: rt})
	s.grpc.RegisterService(&sequencerServiceDesc, &sequencerSvc{rt: rt})
	s.grpc.RegisterService(&listenerServiceDesc, &listenerSvc{rt: rt, quit: s.quit})
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.stop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.grpc.GracefulStop()
}
