package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/errdefs"
	"inferd/pkg/types"
)

// statusFor maps a serving error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errdefs.ErrTooBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, errdefs.ErrSequenceMissing):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrSequenceAlreadyExists), errors.Is(err, errdefs.ErrSequenceTerminated):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrMaxSessionsReached):
		return http.StatusServiceUnavailable
	case errors.Is(err, errdefs.ErrResourceExhausted):
		return http.StatusInsufficientStorage
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindConfiguration, errdefs.KindConcurrency:
		return http.StatusBadRequest
	case errdefs.KindNotFound:
		return http.StatusNotFound
	case errdefs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err and writes it as a JSON error payload.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	payload := types.ErrorResponse{Error: err.Error(), Code: status}
	if kind := errdefs.KindOf(err); kind != errdefs.KindUnknown {
		payload.Kind = kind.String()
	}
	countError(payload.Kind, status)
	writeJSON(w, status, payload)
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
