package grpcserver

import (
	"errors"
	"sync"

	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type listenerSvc struct {
	rt   *runtime.Runtime
	quit <-chan struct{}
}

// grpcSink is the listener a remote subscription registers. It forwards
// batches onto the server stream until the handler returns.
type grpcSink struct {
	id     string
	stream grpc.ServerStream
	done   chan error

	mu     sync.Mutex
	closed bool
	failed bool
}

func (g *grpcSink) ID() string { return g.id }

func (g *grpcSink) OnNext(b listener.Batch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if err := g.stream.SendMsg(&SubscribeEvent{Batch: &b}); err != nil {
		g.finish(err)
	}
}

func (g *grpcSink) OnError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = true
	if g.closed {
		return
	}
	ev := &SubscribeEvent{Err: toRPCError(err), Recoverable: listener.IsRecoverable(err)}
	var le *listener.Error
	if errors.As(err, &le) {
		ev.Address = le.Address
	}
	g.finish(g.stream.SendMsg(ev))
}

func (g *grpcSink) finish(err error) {
	select {
	case g.done <- err:
	default:
	}
}

// close stops forwarding and reports whether the registry still holds the
// subscription.
func (g *grpcSink) close() (registered bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return !g.failed
}

func (s *listenerSvc) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if req.ID == "" {
		return status.Error(codes.InvalidArgument, "subscriber id is required")
	}
	sink := &grpcSink{id: req.ID, stream: stream, done: make(chan error, 1)}
	reg := s.rt.Listeners()
	err := reg.Subscribe(sink, listener.SubscribeOptions{Streams: req.Streams, From: req.From, Filter: req.Filter})
	switch {
	case errors.Is(err, listener.ErrAlreadyRegistered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, listener.ErrRegistryClosed):
		return status.Error(codes.Unavailable, err.Error())
	case err != nil:
		return status.Error(codes.InvalidArgument, err.Error())
	}
	defer func() {
		if sink.close() {
			reg.Unsubscribe(req.ID)
		}
	}()

	select {
	case <-stream.Context().Done():
		return nil
	case <-s.quit:
		return status.Error(codes.Unavailable, "server stopping")
	case err := <-sink.done:
		return err
	}
}
