package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/pkg/validator"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string                     `json:"code"`
	Message string                     `json:"message"`
	Fields  validator.ValidationErrors `json:"fields,omitempty"`
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// Degraded sends a 200 response whose data is a best-effort fallback
func Degraded(w http.ResponseWriter, data interface{}, warning string) {
	write(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Warning: warning,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationFailed sends a 400 response listing the offending fields
func ValidationFailed(w http.ResponseWriter, errs validator.ValidationErrors) {
	write(w, http.StatusBadRequest, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    "VALIDATION_FAILED",
			Message: errs.Error(),
			Fields:  errs,
		},
	})
}

// FromError maps domain errors to responses. It returns false for errors it
// does not know, leaving the caller to log and send a 500.
func FromError(w http.ResponseWriter, err error) bool {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		ValidationFailed(w, ve)
	case errors.Is(err, domain.ErrInvalidInput):
		BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrConflict):
		Conflict(w, err.Error())
	default:
		return false
	}
	return true
}

// BadRequest sends a 400 response
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized sends a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden sends a 403 response
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

// NotFound sends a 404 response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

// Conflict sends a 409 response
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, "CONFLICT", message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(w http.ResponseWriter, message string) {
	Error(w, http.StatusTooManyRequests, "RATE_LIMITED", message)
}

// InternalError sends a 500 response
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// ServiceUnavailable sends a 503 response
func ServiceUnavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

// Created sends a 201 response with data
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 response with data
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// NoContent sends a 204 response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
