package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Configuration editing error codes.
const (
	ErrPathNotFound  = "PATH_NOT_FOUND"
	ErrStaleSnapshot = "STALE_SNAPSHOT"
	ErrNoSession     = "NO_EDIT_SESSION"
)

// Rig channel error codes.
const (
	ErrRigUnavailable = "RIG_UNAVAILABLE"
	ErrRigTimeout     = "RIG_TIMEOUT"
	ErrSaveRejected   = "SAVE_REJECTED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// console API. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewPathNotFoundError returns a PATH_NOT_FOUND error for the given field
// path. Only the edit addressed by the path is aborted; the rest of the
// working copy stays intact.
func NewPathNotFoundError(path string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPathNotFound,
		Message: fmt.Sprintf("configuration path %q does not exist", path),
	}
}

// NewStaleSnapshotError returns a STALE_SNAPSHOT error.
func NewStaleSnapshotError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStaleSnapshot, Message: msg}
}

// NewNoSessionError returns a NO_EDIT_SESSION error for the given module.
func NewNoSessionError(moduleID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoSession,
		Message: fmt.Sprintf("no edit session open for module %q", moduleID),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewRigUnavailableError returns a RIG_UNAVAILABLE error.
func NewRigUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRigUnavailable,
		Message: "The rig controller channel is not connected",
	}
}

// NewRigTimeoutError returns a RIG_TIMEOUT error.
func NewRigTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRigTimeout,
		Message: "The rig controller did not acknowledge in time",
	}
}

// NewSaveRejectedError returns a SAVE_REJECTED error carrying the rig
// controller's failure reason.
func NewSaveRejectedError(reason string) *ErrorEnvelope {
	if reason == "" {
		reason = "the rig controller rejected the configuration"
	}
	return &ErrorEnvelope{Code: ErrSaveRejected, Message: reason}
}
