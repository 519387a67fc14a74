package api

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses a JSON request body of at most maxBodyBytes.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

const maxBodyBytes = 1 << 20

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondServiceError maps a service error onto its status and code.
// Details of server-side failures are logged, never returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	cat := apperrors.Categorize(err)
	if cat.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithField("code", cat.Code).Error("request failed")
		code := ErrCodeInternalError
		message := "An internal error occurred"
		if cat.StatusCode == http.StatusServiceUnavailable {
			code, message = ErrCodeServiceUnavailable, cat.Message
		}
		respondError(w, cat.StatusCode, code, message, nil)
		return
	}
	respondError(w, cat.StatusCode, cat.Code, cat.Message, cat.Details)
}
