package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Authentication
	ErrMissingToken      = errors.New("missing authentication token")
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrInvalidRole       = errors.New("invalid role")
	ErrMissingSubject    = errors.New("token subject is required")
	ErrInvalidServiceKey = errors.New("invalid service key")
	ErrUnauthorized      = errors.New("unauthorized")

	// Topics
	ErrInvalidTopic     = errors.New("invalid topic name")
	ErrUnknownFamily    = errors.New("unknown topic family")
	ErrInvalidJobFilter = errors.New("invalid job filter")
	ErrTopicForbidden   = errors.New("topic subscription forbidden")

	// Events and dispatch
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrEmptyTarget      = errors.New("dispatch target is empty")
	ErrUserIDRequired   = errors.New("user ID is required")
	ErrTicketIDRequired = errors.New("ticket ID is required")

	// Cross-process fan-out
	ErrEnvelopeTooLarge  = errors.New("envelope exceeds broker payload limit")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrUnknownBroker     = errors.New("unknown broker backend")

	// Client protocol
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// Generic
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal server error")
)

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}
