package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/runtime"
)

// ClusterController exposes layout, failure detection and log unit state.
type ClusterController struct {
	rt *runtime.Runtime
}

func NewClusterController(rt *runtime.Runtime) *ClusterController {
	return &ClusterController{rt: rt}
}

func (c *ClusterController) RegisterRoutes(r chi.Router) {
	r.Route("/v1/cluster", func(r chi.Router) {
		r.Get("/layout", c.handleLayout)
		r.Get("/report", c.handleReport)
		r.Get("/reconcile", c.handleReconcile)
	})
	r.Route("/v1/log", func(r chi.Router) {
		r.Get("/", c.handleLogStatus)
		r.Get("/entries", c.handleEntries)
		r.Post("/trim", c.handleTrim)
	})
}

func (c *ClusterController) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.rt.Holder().Layout())
}

// handleReport returns the latest poll round. 404 until a round has run,
// which is forever on a node without peers.
func (c *ClusterController) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := c.rt.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no poll report yet")
		return
	}
	writeJSON(w, toPollReportJSON(rep))
}

func (c *ClusterController) handleReconcile(w http.ResponseWriter, r *http.Request) {
	state, candidate := c.rt.ReconcileState()
	writeJSON(w, reconcileJSON{State: state.String(), Candidate: candidate, Epoch: c.rt.Holder().Epoch()})
}

func (c *ClusterController) handleLogStatus(w http.ResponseWriter, r *http.Request) {
	l := c.rt.Log()
	tail, err := l.Tail(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	mark, err := l.TrimMark(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, logStatusJSON{Name: l.Name(), Epoch: l.Epoch(), Tail: tail, TrimMark: mark, UsedBytes: l.UsedBytes()})
}

// handleEntries pages through stored entries. Query: start, limit, reverse.
func (c *ClusterController) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reverse := parseBool(q.Get("reverse"))
	def := uint64(0)
	if reverse {
		def = eventlog.ScanFromEnd
	}
	start, err := parseUint(q.Get("start"), def)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start")
		return
	}
	limit := parseLimit(q.Get("limit"))
	if limit == 0 {
		limit = 100
	}
	page, err := c.rt.Log().Scan(r.Context(), eventlog.ScanOptions{Start: start, Limit: limit, Reverse: reverse})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := entriesPageJSON{Items: make([]entryJSON, 0, len(page.Items)), Next: page.Next, More: page.More}
	for _, it := range page.Items {
		out.Items = append(out.Items, toEntryJSON(it))
	}
	writeJSON(w, out)
}

// handleTrim runs one trim round now instead of waiting for the interval.
func (c *ClusterController) handleTrim(w http.ResponseWriter, r *http.Request) {
	floor, ok, err := c.rt.TrimOnce(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"trimmed": ok, "floor": floor})
}
