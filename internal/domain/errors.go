package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes a failure inside the engine.
type ErrorType string

const (
	// ErrorTypeExtraction indicates malformed or low-confidence model output.
	// Recovered locally by leaving slots unfilled and re-prompting.
	ErrorTypeExtraction ErrorType = "extraction"

	// ErrorTypeProvider indicates a provider timeout, rate limit, or 5xx.
	ErrorTypeProvider ErrorType = "provider"

	// ErrorTypeRoutingExhausted indicates no provider was available at any
	// tier. Fatal for the turn; forces escalation.
	ErrorTypeRoutingExhausted ErrorType = "routing_exhausted"

	// ErrorTypeValidation indicates a bad date range or impossible slot
	// combination. Surfaced as a clarification request, never fatal.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeConversation indicates a lifecycle problem such as an
	// unknown or already-terminated call.
	ErrorTypeConversation ErrorType = "conversation"
)

// EngineError is the canonical error carried across the engine's internal
// boundaries, mapped to HTTP at the server edge.
type EngineError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	wrapped error
}

func (e *EngineError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *EngineError) Unwrap() error { return e.wrapped }

// HTTPStatusCode returns the status code the server surface should use.
func (e *EngineError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeConversation:
		return http.StatusNotFound
	case ErrorTypeValidation, ErrorTypeExtraction:
		return http.StatusUnprocessableEntity
	case ErrorTypeProvider, ErrorTypeRoutingExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewEngineError creates an error of the given type.
func NewEngineError(t ErrorType, message string) *EngineError {
	return &EngineError{Type: t, Message: message}
}

// Wrap attaches an underlying cause.
func (e *EngineError) Wrap(err error) *EngineError {
	e.wrapped = err
	return e
}

// ErrProvider creates a provider failure error.
func ErrProvider(provider string, err error) *EngineError {
	return NewEngineError(ErrorTypeProvider, fmt.Sprintf("provider %s failed", provider)).Wrap(err)
}

// ErrRoutingExhausted creates a routing exhaustion error.
func ErrRoutingExhausted(message string) *EngineError {
	return NewEngineError(ErrorTypeRoutingExhausted, message)
}

// ErrConversation creates a conversation lifecycle error.
func ErrConversation(message string) *EngineError {
	return NewEngineError(ErrorTypeConversation, message)
}

// ErrExtraction creates an extraction error.
func ErrExtraction(message string) *EngineError {
	return NewEngineError(ErrorTypeExtraction, message)
}

// IsType reports whether err is an EngineError of the given type.
func IsType(err error, t ErrorType) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Type == t
	}
	return false
}
