package grpcserver

import (
	"context"

	"github.com/rzbill/flolog/internal/cluster"
	"github.com/rzbill/flolog/internal/runtime"
)

type clusterSvc struct {
	rt *runtime.Runtime
}

func (s *clusterSvc) Probe(_ context.Context, req *cluster.ProbeRequest) (*cluster.ProbeResponse, error) {
	resp := s.rt.HandleProbe(*req)
	return &resp, nil
}

// GetLayout returns the layout this node has installed, which is what a
// reconciling peer adopts.
func (s *clusterSvc) GetLayout(context.Context, *Empty) (*LayoutResponse, error) {
	return &LayoutResponse{Layout: s.rt.Holder().Layout()}, nil
}

func (s *clusterSvc) StreamCreated(ctx context.Context, msg *cluster.StreamCreated) (*Ack, error) {
	return &Ack{Err: toRPCError(s.rt.Directory().Record(ctx, *msg))}, nil
}
