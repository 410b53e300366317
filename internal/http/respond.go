package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tidytab/internal/core"
	"tidytab/internal/middleware/trace"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps a service error to a status code via its failure kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(core.Classify(err))
	requestID := trace.GetRequestID(r.Context())
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "request_id", requestID, "url", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Request rejected", "error", err, "request_id", requestID, "status", status, "url", r.URL.Path)
	}
	writeErrorMessage(w, status, err.Error())
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindBadInput:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindStale:
		return http.StatusConflict
	case core.KindRetryLater:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
