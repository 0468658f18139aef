// Package api provides error handling utilities for the REST API.
package api

import (
	"errors"
	"net/http"

	"github.com/warden/warden/internal/admission"
	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/models"
)

// APIError represents a structured API error.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Common API error codes.
const (
	ErrCodeInvalidJSON     = "INVALID_JSON"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeRolloutDisabled = "ROLLOUT_DISABLED"
	ErrCodeQueueFull       = "QUEUE_FULL"
	ErrCodeBackpressure    = "BACKPRESSURE"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeUnsupported     = "UNSUPPORTED"
	ErrCodeStoreError      = "STORE_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Predefined API errors.
var (
	ErrInvalidJSON = &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeInvalidJSON,
		Message:    "Invalid JSON body",
	}
	ErrJobNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Job not found",
	}
	ErrDeadLetterNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Dead-letter entry not found",
	}
	ErrTicketNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Approval ticket not found",
	}
	ErrQueueFull = &APIError{
		HTTPStatus: http.StatusServiceUnavailable,
		Code:       ErrCodeQueueFull,
		Message:    "Queue is at capacity",
	}
	ErrBackpressure = &APIError{
		HTTPStatus: http.StatusTooManyRequests,
		Code:       ErrCodeBackpressure,
		Message:    "Queue backpressure active, retry later",
	}
	ErrInternalError = &APIError{
		HTTPStatus: http.StatusInternalServerError,
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
	}
)

// NewValidationError creates a validation error with a custom message.
func NewValidationError(message string) *APIError {
	return &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeValidation,
		Message:    message,
	}
}

// MapDomainError maps domain/model errors to API errors.
func MapDomainError(err error) *APIError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, admission.ErrPolicyDenied):
		return &APIError{
			HTTPStatus: http.StatusForbidden,
			Code:       ErrCodePolicyDenied,
			Message:    err.Error(),
		}
	case errors.Is(err, admission.ErrRolloutDisabled):
		return &APIError{
			HTTPStatus: http.StatusForbidden,
			Code:       ErrCodeRolloutDisabled,
			Message:    err.Error(),
		}
	case errors.Is(err, models.ErrQueueFull):
		return ErrQueueFull
	case errors.Is(err, models.ErrBackpressure):
		return ErrBackpressure
	case errors.Is(err, models.ErrJobNotFound):
		return ErrJobNotFound
	case errors.Is(err, models.ErrDeadLetterNotFound):
		return ErrDeadLetterNotFound
	case errors.Is(err, approval.ErrTicketNotFound):
		return ErrTicketNotFound
	case errors.Is(err, models.ErrEntrypointRequired),
		errors.Is(err, models.ErrTargetRequired),
		errors.Is(err, models.ErrMaxAttemptsInvalid):
		return NewValidationError(err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		return &APIError{
			HTTPStatus: http.StatusConflict,
			Code:       ErrCodeConflict,
			Message:    err.Error(),
		}
	default:
		return &APIError{
			HTTPStatus: http.StatusInternalServerError,
			Code:       ErrCodeInternalError,
			Message:    "An unexpected error occurred",
		}
	}
}

// WriteAPIError writes an API error response.
func (h *Handler) WriteAPIError(w http.ResponseWriter, err *APIError) {
	h.writeJSON(w, err.HTTPStatus, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    err.Code,
			Message: err.Message,
		},
	})
}

// HandleError maps a domain error to an API error and writes the response.
// Returns true if an error was handled, false if err was nil.
func (h *Handler) HandleError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	apiErr := MapDomainError(err)
	if apiErr.Code == ErrCodeInternalError {
		h.logger.Error().Err(err).Msg("request failed")
	}
	h.WriteAPIError(w, apiErr)
	return true
}
