package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rzbill/flolog/internal/browser"
	"github.com/rzbill/flolog/internal/runtime"
)

// TablesController manages tables and their views: list, create, info,
// rows, put, append and drop.
type TablesController struct {
	rt *runtime.Runtime
	br *browser.Browser
}

func NewTablesController(rt *runtime.Runtime, br *browser.Browser) *TablesController {
	return &TablesController{rt: rt, br: br}
}

func (c *TablesController) RegisterRoutes(r chi.Router) {
	r.Route("/v1/tables", func(r chi.Router) {
		r.Get("/", c.handleList)
		r.Post("/", c.handleCreate)
		r.Route("/{ns}/{table}", func(r chi.Router) {
			r.Get("/", c.handleInfo)
			r.Delete("/", c.handleDrop)
			r.Get("/rows", c.handleRows)
			r.Post("/rows", c.handlePut)
			r.Post("/append", c.handleAppend)
		})
	})
}

func tableParams(r *http.Request) (string, string) {
	return chi.URLParam(r, "ns"), chi.URLParam(r, "table")
}

// handleList lists the tables of ?namespace=, or every stream when absent.
func (c *TablesController) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.br.ListTables(r.URL.Query().Get("namespace"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"tables": list})
}

func (c *TablesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req tableCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Namespace == "" {
		req.Namespace = c.rt.Config().DefaultNamespaceName
	}
	info, created, err := c.rt.Directory().Create(r.Context(), req.Namespace, req.Table)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !created {
		writeJSON(w, tableCreateResp{Created: false, Table: info})
		return
	}
	writeCreated(w, tableCreateResp{Created: true, Table: info})
}

func (c *TablesController) handleInfo(w http.ResponseWriter, r *http.Request) {
	ns, tbl := tableParams(r)
	info, err := c.br.InfoTable(r.Context(), ns, tbl)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, info)
}

// handleRows returns the view's rows. Query: filter (CEL over key, value,
// size, json), limit.
func (c *TablesController) handleRows(w http.ResponseWriter, r *http.Request) {
	ns, tbl := tableParams(r)
	q := r.URL.Query()
	rows, err := c.br.ShowTable(r.Context(), ns, tbl, browser.ShowOptions{
		Filter: q.Get("filter"),
		Limit:  parseLimit(q.Get("limit")),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if rows == nil {
		rows = []browser.Row{}
	}
	writeJSON(w, map[string]any{"rows": rows})
}

func (c *TablesController) handlePut(w http.ResponseWriter, r *http.Request) {
	ns, tbl := tableParams(r)
	var req putReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	t, err := c.rt.OpenTable(r.Context(), ns, tbl)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer t.Close()
	ts, err := t.Put(r.Context(), []byte(req.Key), req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCreated(w, toTimestampJSON(ts))
}

// handleAppend appends a raw payload to the table's stream. Views skip
// payloads that are not table ops.
func (c *TablesController) handleAppend(w http.ResponseWriter, r *http.Request) {
	ns, tbl := tableParams(r)
	var req appendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s, _, err := c.rt.OpenStream(r.Context(), ns, tbl)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer s.Close()
	ts, err := s.Append(r.Context(), req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCreated(w, toTimestampJSON(ts))
}

func (c *TablesController) handleDrop(w http.ResponseWriter, r *http.Request) {
	ns, tbl := tableParams(r)
	info, err := c.br.DropTable(r.Context(), ns, tbl)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, info)
}
