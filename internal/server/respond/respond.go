// Package respond writes API responses and maps failures onto HTTP status
// codes. Handlers hand errors over unwrapped; the mapping here is the single
// place that decides what callers see.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/export"
	schemadomain "streaming-status/backend/internal/schema/domain"
)

// errorBody is the JSON envelope carried by every non-2xx response.
type errorBody struct {
	Message string `json:"message"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("respond: encode: %v", err)
	}
}

// NoContent writes an empty 204 response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error maps err onto a status code and writes the error envelope.
// Unrecognized errors become 500 with a generic message; their detail goes to
// the log, not to the caller.
func Error(w http.ResponseWriter, err error) {
	status, message := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("respond: internal error: %v", err)
		message = "internal server error"
	}
	JSON(w, status, errorBody{Message: message})
}

func statusOf(err error) (int, string) {
	var unsupported *export.UnsupportedFormatError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, auth.ErrInvalidScope),
		errors.Is(err, devicedomain.ErrInvalidArgument),
		errors.Is(err, schemadomain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, devicedomain.ErrNotFound),
		errors.Is(err, schemadomain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "downstream timeout"
	}
	return http.StatusInternalServerError, ""
}
