package grpcserver

import (
	"context"

	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/runtime"
)

type logUnitSvc struct {
	rt *runtime.Runtime
}

func (s *logUnitSvc) Write(ctx context.Context, req *WriteRequest) (*Ack, error) {
	e, err := eventlog.UnmarshalEntry(req.Entry)
	if err != nil {
		return &Ack{Err: &RPCError{Kind: KindInternal, Message: err.Error()}}, nil
	}
	return &Ack{Err: toRPCError(s.rt.Log().Write(ctx, req.Addr, e))}, nil
}

func (s *logUnitSvc) Read(ctx context.Context, req *AddrRequest) (*ReadResponse, error) {
	e, err := s.rt.Log().Read(ctx, req.Addr)
	if err != nil {
		return &ReadResponse{Err: toRPCError(err)}, nil
	}
	return &ReadResponse{Entry: eventlog.MarshalEntry(e)}, nil
}

func (s *logUnitSvc) Tail(ctx context.Context, _ *Empty) (*AddrResponse, error) {
	addr, err := s.rt.Log().Tail(ctx)
	return &AddrResponse{Addr: addr, Err: toRPCError(err)}, nil
}

func (s *logUnitSvc) TrimMark(ctx context.Context, _ *Empty) (*AddrResponse, error) {
	addr, err := s.rt.Log().TrimMark(ctx)
	return &AddrResponse{Addr: addr, Err: toRPCError(err)}, nil
}

func (s *logUnitSvc) Trim(ctx context.Context, req *AddrRequest) (*Ack, error) {
	return &Ack{Err: toRPCError(s.rt.Log().Trim(ctx, req.Addr))}, nil
}

func (s *logUnitSvc) Seal(ctx context.Context, req *SealRequest) (*Ack, error) {
	return &Ack{Err: toRPCError(s.rt.Log().Seal(ctx, req.Epoch))}, nil
}

type sequencerSvc struct {
	rt *runtime.Runtime
}

func (s *sequencerSvc) Next(ctx context.Context, req *NextRequest) (*NextResponse, error) {
	tok, err := s.rt.Sequencer().Next(ctx, req.Epoch, req.Streams...)
	if err != nil {
		return &NextResponse{Err: toRPCError(err)}, nil
	}
	return &NextResponse{Token: tok}, nil
}

func (s *sequencerSvc) Current(ctx context.Context, req *CurrentRequest) (*AddrResponse, error) {
	addr, err := s.rt.Sequencer().Current(ctx, req.Stream)
	return &AddrResponse{Addr: addr, Err: toRPCError(err)}, nil
}

func (s *sequencerSvc) Tail(ctx context.Context, _ *Empty) (*AddrResponse, error) {
	addr, err := s.rt.Sequencer().Tail(ctx)
	return &AddrResponse{Addr: addr, Err: toRPCError(err)}, nil
}
