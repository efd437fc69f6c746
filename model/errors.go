package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrValidationError   = "VALIDATION_ERROR"
	ErrProviderError     = "PROVIDER_ERROR"
	ErrIncomplete        = "INCOMPLETE"
	ErrNotFound          = "NOT_FOUND"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrBusy              = "BUSY"
	ErrConflict          = "CONFLICT"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Field error codes used in ErrorEnvelope details.
const (
	FieldRequired = "REQUIRED"
	FieldFormat   = "INVALID_FORMAT"
)

// ErrorEnvelope is the error value returned by every flow in the client core.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`

	// cause is the underlying collaborator error, if any.
	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the collaborator error wrapped by a PROVIDER_ERROR.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewProviderError returns a PROVIDER_ERROR wrapping the collaborator failure.
func NewProviderError(msg string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrProviderError, Message: msg, cause: cause}
}

// NewIncompleteError returns an INCOMPLETE error listing the unanswered
// required questions.
func NewIncompleteError(missing []QuestionSpec) *ErrorEnvelope {
	details := make([]FieldError, 0, len(missing))
	for _, q := range missing {
		details = append(details, FieldError{
			Field:   q.ID,
			Code:    FieldRequired,
			Message: "an answer is required",
		})
	}
	return &ErrorEnvelope{
		Code:    ErrIncomplete,
		Message: fmt.Sprintf("%d required question(s) unanswered", len(missing)),
		Details: details,
	}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewBusyError returns a BUSY error for an action that already has a request
// in flight.
func NewBusyError(action string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBusy,
		Message: fmt.Sprintf("%s is already in progress", action),
	}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR wrapping an infrastructure
// failure. The cause is kept for logging and never shown to the user.
func NewInternalError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
		cause:   cause,
	}
}

// CodeOf returns the envelope code of err, or "" when err carries none.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
