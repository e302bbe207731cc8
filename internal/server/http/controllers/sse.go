package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/runtime"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// SubscribeController streams listener batches as Server-Sent Events.
type SubscribeController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewSubscribeController(rt *runtime.Runtime, logger logpkg.Logger) *SubscribeController {
	return &SubscribeController{rt: rt, logger: logger.WithComponent("sse")}
}

func (c *SubscribeController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/subscribe", c.handleSubscribe)
}

type sseEvent struct {
	batch *listener.Batch
	err   error
}

// sseSink is the listener an SSE request registers. Delivery hands events
// to the request goroutine, which owns the response writer.
type sseSink struct {
	id     string
	events chan sseEvent
	done   chan struct{}
	failed atomic.Bool
}

func (s *sseSink) ID() string { return s.id }

func (s *sseSink) OnNext(b listener.Batch) {
	select {
	case s.events <- sseEvent{batch: &b}:
	case <-s.done:
	}
}

func (s *sseSink) OnError(err error) {
	s.failed.Store(true)
	select {
	case s.events <- sseEvent{err: err}:
	case <-s.done:
	}
}

// writeEvent writes one SSE event. The payload is JSON-encoded after the
// "data: " prefix and terminated by a blank line.
func writeEvent(w http.ResponseWriter, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// handleSubscribe registers a listener and streams its batches until the
// client goes away or the subscription fails.
//
// Query: table (repeatable, "ns/table"), stream (repeatable, stream ID),
// from (first address), filter (CEL), id (subscriber ID, generated when
// absent). No table or stream means every stream.
func (c *SubscribeController) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var streams []uuid.UUID
	for _, t := range q["table"] {
		ns, tbl, ok := strings.Cut(t, "/")
		if !ok {
			ns, tbl = c.rt.Config().DefaultNamespaceName, t
		}
		info, err := c.rt.Directory().Lookup(ns, tbl)
		if err != nil {
			writeErr(w, err)
			return
		}
		streams = append(streams, info.ID)
	}
	for _, s := range q["stream"] {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid stream id")
			return
		}
		streams = append(streams, id)
	}
	from, err := parseUint(q.Get("from"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from")
		return
	}
	id := q.Get("id")
	if id == "" {
		id = "sse-" + uuid.NewString()
	}

	sink := &sseSink{id: id, events: make(chan sseEvent, 16), done: make(chan struct{})}
	reg := c.rt.Listeners()
	err = reg.Subscribe(sink, listener.SubscribeOptions{Streams: streams, From: from, Filter: q.Get("filter")})
	switch {
	case errors.Is(err, listener.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, listener.ErrRegistryClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() {
		close(sink.done)
		if !sink.failed.Load() {
			reg.Unsubscribe(id)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, "subscribed", map[string]string{"id": id}); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sink.events:
			if ev.err != nil {
				body := map[string]any{"error": ev.err.Error(), "recoverable": listener.IsRecoverable(ev.err)}
				var le *listener.Error
				if errors.As(ev.err, &le) {
					body["address"] = le.Address
				}
				_ = writeEvent(w, "error", body)
				return
			}
			if err := writeEvent(w, "batch", ev.batch); err != nil {
				c.logger.Debug("sse client gone", logpkg.Str("id", id), logpkg.Err(err))
				return
			}
		}
	}
}
