package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cart error taxonomy.
// Use errors.Is() to check against these.
var (
	// ErrTransientStorage: browser storage unavailable, over quota, or unreadable.
	// Never fatal; callers degrade to an empty cart.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrLocalPersistence: the durable local store could not read or write.
	// Triggers fallback to the remote service.
	ErrLocalPersistence = errors.New("local persistence failure")

	// ErrRemoteUnavailable: network or service error from the remote backend.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrMergeDataCorrupt: a backup or guest payload could not be parsed.
	// The merge is skipped and the server-authoritative cart is fetched instead.
	ErrMergeDataCorrupt = errors.New("merge data corrupt")

	// ErrValidation: input rejected before any I/O (empty item id, missing owner).
	ErrValidation = errors.New("validation failure")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrValidation,
	}
}

// NewUnauthorizedError creates a 401 error for operations that need an authenticated owner.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        fmt.Errorf("%w: %w", ErrValidation, ErrUnauthorized),
	}
}

// NewLocalPersistenceError creates a 503 error for local store failures.
func NewLocalPersistenceError(op string, err error) *APIError {
	return &APIError{
		Code:       "LOCAL_PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("local store %s failed", op),
		StatusCode: 503,
		Err:        fmt.Errorf("%w: %v", ErrLocalPersistence, err),
	}
}

// NewRemoteError creates a 502 error for remote backend failures.
func NewRemoteError(service string, err error) *APIError {
	return &APIError{
		Code:       "REMOTE_UNAVAILABLE",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrRemoteUnavailable, err),
	}
}

// NewCorruptDataError creates an error for unparseable guest or backup payloads.
func NewCorruptDataError(source string, err error) *APIError {
	return &APIError{
		Code:       "MERGE_DATA_CORRUPT",
		Message:    fmt.Sprintf("%s payload could not be parsed", source),
		StatusCode: 422,
		Err:        fmt.Errorf("%w: %v", ErrMergeDataCorrupt, err),
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}
