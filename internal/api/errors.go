package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{"error": apiError{Message: msg, Type: errType}})
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// statusOf maps an error kind to an HTTP status and error type.
func statusOf(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.InvalidArgument:
		return http.StatusBadRequest, "invalid_request_error"
	case apperr.NotFound:
		return http.StatusNotFound, "not_found"
	case apperr.ProviderUnavailable, apperr.IndexUnavailable:
		return http.StatusServiceUnavailable, "service_unavailable"
	case apperr.AgentFailure:
		return http.StatusBadGateway, "agent_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

// writeError reports err with the status its kind maps to. Server-side
// failures are logged; client errors are not.
func writeError(w http.ResponseWriter, err error) {
	code, errType := statusOf(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "status", code, "error", err)
	}
	httpError(w, code, errType, "%s", err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
