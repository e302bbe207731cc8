package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rzbill/flolog/internal/runtime"
)

// GeneralController serves health and namespace endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given router.
func (c *GeneralController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/healthz", c.handleHealth)
	r.Get("/v1/namespaces", c.handleListNamespaces)
	r.Post("/v1/namespaces", c.handleNSCreate)
}

// handleListNamespaces lists all namespaces.
func (c *GeneralController) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Namespaces().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list namespaces")
		return
	}
	writeJSON(w, map[string]any{"namespaces": list})
}

// handleHealth returns 200 with {"status": "ok"} when healthy and 503
// otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleNSCreate creates a namespace from a JSON body with a "namespace"
// field.
func (c *GeneralController) handleNSCreate(w http.ResponseWriter, r *http.Request) {
	var req nsCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	meta, err := c.rt.Namespaces().Ensure(req.Namespace)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCreated(w, meta)
}
