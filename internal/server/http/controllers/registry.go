package controllers

import (
	"github.com/go-chi/chi/v5"
	"github.com/rzbill/flolog/internal/browser"
	"github.com/rzbill/flolog/internal/runtime"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// ControllerRegistry owns every HTTP controller and mounts their routes.
type ControllerRegistry struct {
	general   *GeneralController
	cluster   *ClusterController
	tables    *TablesController
	subscribe *SubscribeController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &ControllerRegistry{
		general:   NewGeneralController(rt),
		cluster:   NewClusterController(rt),
		tables:    NewTablesController(rt, browser.New(rt, logger)),
		subscribe: NewSubscribeController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given router.
func (c *ControllerRegistry) RegisterAllRoutes(r chi.Router) {
	c.general.RegisterRoutes(r)
	c.cluster.RegisterRoutes(r)
	c.tables.RegisterRoutes(r)
	c.subscribe.RegisterRoutes(r)
}
