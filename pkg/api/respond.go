// Package api implements C8: the chi-routed JSON HTTP surface over job
// submission, provider introspection, health, and admin operations
// (spec.md §4.8).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
)

// errorBody is the non-2xx envelope every endpoint shares (spec §4.8:
// "non-2xx responses carry {error: code, detail: message}").
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.As(err)
	status, code := statusForKind(kind)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: code, Detail: err.Error()})
}

// statusForKind maps the closed error taxonomy to an HTTP status and wire
// code (spec §6 "Error codes used across endpoints").
func statusForKind(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest, "invalid_request"
	case apperr.KindValidationError:
		return http.StatusUnprocessableEntity, "validation_error"
	case apperr.KindUnsupportedFormat:
		return http.StatusUnprocessableEntity, "unsupported_format"
	case apperr.KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperr.KindForbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.KindConflict:
		return http.StatusConflict, "conflict"
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, "rate_limited"
	case apperr.KindCircuitOpen:
		return http.StatusServiceUnavailable, "circuit_open"
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case apperr.KindToolFailure, apperr.KindProviderFailure, apperr.KindWorkerLost, apperr.KindCancelled:
		return http.StatusServiceUnavailable, "dependency_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
