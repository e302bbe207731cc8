package grpcserver

import (
	"context"

	"github.com/rzbill/flolog/internal/runtime"
)

type healthSvc struct {
	rt *runtime.Runtime
}

func (h *healthSvc) Check(ctx context.Context, _ *Empty) (*HealthResponse, error) {
	if err := h.rt.CheckHealth(ctx); err != nil {
		return &HealthResponse{Status: "not_serving"}, nil
	}
	return &HealthResponse{Status: "ok"}, nil
}
