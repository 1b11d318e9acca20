package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/logger"
)

// statusFor maps application errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperr.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, apperr.ErrInvalidArea),
		errors.Is(err, apperr.ErrInvalidUnit),
		errors.Is(err, apperr.ErrInvalidConfidence),
		errors.Is(err, apperr.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err as {"error": "..."} with the mapped status. Server
// side failures are logged, client mistakes only as warnings.
func writeError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	} else {
		logger.Warning("Request rejected (%d): %v", status, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
