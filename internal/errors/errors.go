package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ValidationFailed indicates a malformed or out-of-range request parameter
	ValidationFailed ErrorCode = "VALIDATION_FAILED"
	// IndexNotFound indicates the requested index is not configured
	IndexNotFound ErrorCode = "INDEX_NOT_FOUND"
	// EngineError indicates the n-gram engine returned a tagged error
	EngineError ErrorCode = "ENGINE_ERROR"
	// ServerOverloaded indicates the computation did not finish before its deadline
	ServerOverloaded ErrorCode = "SERVER_OVERLOADED"
	// ConfigInvalid indicates a dispatch-time configuration mistake
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// Unauthorized indicates a missing or wrong admin token
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RetryLater suggests retrying the same request after a delay
	RetryLater FixActionType = "retry-later"
	// AdjustRequest suggests changing request parameters
	AdjustRequest FixActionType = "adjust-request"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Description string        `json:"description,omitempty"`
}

// AttributionError is a domain error with a stable code, message, and optional details.
type AttributionError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new AttributionError with the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *AttributionError {
	return &AttributionError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Validation creates a VALIDATION_FAILED error for a single field.
func Validation(field, message string) *AttributionError {
	return New(ValidationFailed, fmt.Sprintf("%s: %s", field, message), nil).
		WithDetails(map[string]string{"field": field})
}

// Engine wraps an engine-reported message as an ENGINE_ERROR.
func Engine(message string) *AttributionError {
	return New(EngineError, message, nil)
}

// Overloaded creates the error returned when a computation misses its deadline.
func Overloaded(cause error) *AttributionError {
	return New(ServerOverloaded, "server overloaded, retry later", cause)
}

// Error implements the error interface
func (e *AttributionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AttributionError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AttributionError) WithDetails(details interface{}) *AttributionError {
	e.Details = details
	return e
}

// As extracts an *AttributionError from an error chain.
func As(err error) (*AttributionError, bool) {
	var attrErr *AttributionError
	if stderrors.As(err, &attrErr) {
		return attrErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	attrErr, ok := As(err)
	return ok && attrErr.Code == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ServerOverloaded: {
		{
			Type:        RetryLater,
			Description: "The index is busy; retry the same request after a short delay",
		},
	},
	ValidationFailed: {
		{
			Type:        AdjustRequest,
			Description: "Check the request field named in details",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
