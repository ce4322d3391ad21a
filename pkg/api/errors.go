package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypePlatformTooOld  ErrorType = "platform_too_old"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeSessionNotFound ErrorType = "session_not_found"
	ErrorTypePromptTooLong   ErrorType = "prompt_too_long"
	ErrorTypeSuspiciousInput ErrorType = "suspicious_input"
	ErrorTypeRequestFailed   ErrorType = "request_failed"

	// ErrorTypeInvalidRequest is reported by the transport for malformed
	// input that never reaches the broker.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// Transport-level errors outside the broker vocabulary.
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeServerError     ErrorType = "server_error"
)

// APIError is the external error vocabulary. Every failure that leaves the
// broker is either an *APIError or an unrecognized error passed through as is.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Length  int       `json:"length,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
}

// Error implements the error interface with a human-readable description.
func (e *APIError) Error() string {
	switch e.Type {
	case ErrorTypePlatformTooOld:
		return "Language model support requires a newer platform version"
	case ErrorTypeUnavailable:
		return fmt.Sprintf("Language model unavailable: %s", e.Message)
	case ErrorTypeSessionNotFound:
		return "Language model session could not be found"
	case ErrorTypePromptTooLong:
		return fmt.Sprintf("Prompt too long (length: %d)", e.Length)
	case ErrorTypeSuspiciousInput:
		return fmt.Sprintf("Prompt rejected due to suspicious content: %s", e.Pattern)
	case ErrorTypeRequestFailed:
		return fmt.Sprintf("Request failed: %s", e.Message)
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewPlatformTooOldError reports that the host platform cannot run the engine.
func NewPlatformTooOldError() *APIError {
	return &APIError{
		Type:    ErrorTypePlatformTooOld,
		Message: "platform too old",
	}
}

// NewUnavailableError reports that the engine exists but cannot serve requests.
func NewUnavailableError(reason string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnavailable,
		Message: reason,
	}
}

// NewSessionNotFoundError reports an unknown session id.
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Type:    ErrorTypeSessionNotFound,
		Message: "session not found",
	}
}

// NewPromptTooLongError reports a prompt rejected by the length limit.
func NewPromptTooLongError(length int) *APIError {
	return &APIError{
		Type:    ErrorTypePromptTooLong,
		Message: "prompt too long",
		Length:  length,
	}
}

// NewSuspiciousInputError reports a prompt rejected by the content filter.
func NewSuspiciousInputError(pattern string) *APIError {
	return &APIError{
		Type:    ErrorTypeSuspiciousInput,
		Message: "suspicious input",
		Pattern: pattern,
	}
}

// NewRequestFailedError creates an APIError for a failed engine request.
func NewRequestFailedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeRequestFailed,
		Message: message,
	}
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for a missing stored resource.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewUnauthorizedError creates an APIError for a rejected credential.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for a rate-limited caller.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// NewServerError creates an APIError for an internal failure.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// IsType reports whether err is an *APIError of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == t
}
