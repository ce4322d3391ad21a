package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/lmbroker/pkg/api"
)

// HTTPStatusFromError maps an error to the HTTP status code it is served
// with. Errors that are not an *api.APIError are internal failures.
func HTTPStatusFromError(err error) int {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Type {
	case api.ErrorTypePlatformTooOld:
		return http.StatusNotImplemented
	case api.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case api.ErrorTypeSessionNotFound, api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypePromptTooLong:
		return http.StatusRequestEntityTooLarge
	case api.ErrorTypeSuspiciousInput, api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeRequestFailed:
		return http.StatusBadGateway
	case api.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes err as a JSON error response, deriving the HTTP
// status code from the error type. Errors that are not an *api.APIError
// are reported as server errors carrying their message.
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
