package ratecount

import (
	"context"
	"errors"
	"net/http"

	"github.com/nhalm/ratecount/store"
)

// APIError is the JSON error body written by Handler.
type APIError struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Param   string       `json:"param,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Status  int          `json:"-"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is matches another APIError with the same type and code.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// Predefined sentinel errors
var (
	ErrBadRequest         = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrNotFound           = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrInternal           = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrNotImplemented     = &APIError{Type: "request_error", Code: "not_implemented", Message: "Not implemented", Status: http.StatusNotImplemented}
	ErrStoreUnavailable   = &APIError{Type: "store_error", Code: "store_unavailable", Message: "Counter store unavailable", Status: http.StatusServiceUnavailable}
	ErrStoreProtocol      = &APIError{Type: "store_error", Code: "store_protocol", Message: "Unexpected counter store response", Status: http.StatusServiceUnavailable}
	ErrRequestCanceled    = &APIError{Type: "request_error", Code: "canceled", Message: "Request canceled", Status: http.StatusServiceUnavailable}
	ErrServiceUnavailable = &APIError{Type: "request_error", Code: "service_unavailable", Message: "Service unavailable", Status: http.StatusServiceUnavailable}
)

// NewValidationError creates a validation error with multiple field errors.
func NewValidationError(errors []FieldError) *APIError {
	return &APIError{
		Type:    "validation_error",
		Code:    "invalid_request",
		Message: "Validation failed",
		Errors:  errors,
		Status:  http.StatusBadRequest,
	}
}

// StoreError maps an error returned by a store.Counter to the APIError written to
// clients. Store failures are 503 so callers can retry; a configuration error is the
// service's own fault and is 500.
func StoreError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrRequestCanceled
	case errors.Is(err, store.ErrConfiguration):
		return ErrInternal.With("Counter misconfigured")
	case errors.Is(err, store.ErrStoreProtocol):
		return ErrStoreProtocol
	default:
		return ErrStoreUnavailable
	}
}
