package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rzbill/flolog/internal/browser"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/namespace"
	"github.com/rzbill/flolog/internal/stream"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeErr maps a domain error to its status.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrNotFound), errors.Is(err, namespace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrInvalidTable), errors.Is(err, namespace.ErrNotAllowed),
		errors.Is(err, browser.ErrBadFilter):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrTableLimit), errors.Is(err, namespace.ErrLimit),
		errors.Is(err, listener.ErrAlreadyRegistered), errors.Is(err, eventlog.ErrWrongEpoch):
		return http.StatusConflict
	case errors.Is(err, eventlog.ErrTrimmed):
		return http.StatusGone
	case errors.Is(err, eventlog.ErrOutOfSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, eventlog.ErrUnreachable), errors.Is(err, listener.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeCreated writes a 201 with a JSON body.
func writeCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(data)
}

// parseLimit returns 0 for empty or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseUint returns def for empty strings.
func parseUint(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseBool returns true for "true" or "1".
func parseBool(s string) bool {
	return s == "true" || s == "1"
}
