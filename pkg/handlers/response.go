package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/providers"
	"github.com/classml-io/classml-engine/pkg/services"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeError maps service-layer failures onto HTTP responses. Training
// failures carry their own pre-composed user messages; everything else gets
// a generic body so internal detail stays in the logs.
func writeError(w http.ResponseWriter, err error) {
	var te *services.TrainingError
	if errors.As(err, &te) {
		status := http.StatusInternalServerError
		switch te.Kind {
		case services.TrainingInsufficientCapacity, services.TrainingRateLimited:
			status = http.StatusConflict
		case services.TrainingModelNotFound:
			status = http.StatusNotFound
		case services.TrainingUnauthorized:
			status = http.StatusBadRequest
		}
		_ = ErrorResponse(w, status, string(te.Kind), te.UserMessage)
		return
	}

	// Classify calls surface provider errors directly: a model deleted on
	// the remote service mid-use, or input past the service's size limit.
	var pe *providers.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case providers.KindNotFound:
			_ = ErrorResponse(w, http.StatusNotFound, string(pe.Kind), "Model not found")
			return
		case providers.KindTooLong:
			_ = ErrorResponse(w, http.StatusBadRequest, string(pe.Kind), "Text is too long to classify")
			return
		case providers.KindRateLimited:
			_ = ErrorResponse(w, http.StatusTooManyRequests, string(pe.Kind), "Too many requests, try again shortly")
			return
		}
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrProjectNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, apperrors.ErrMissingData):
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_data", "Missing data")
	case errors.Is(err, apperrors.ErrInvalidLabel):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_label", "Unknown label")
	case errors.Is(err, apperrors.ErrInvalidData):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_data", "Invalid data")
	default:
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Something went wrong")
	}
}
