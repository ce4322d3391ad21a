package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// MapError classifies a Chat Completions failure. Context errors are
// returned unchanged; backend errors become *provider.GenerationError where
// a kind fits and a detail-free *api.APIError otherwise.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return MapAPIError(apiErr)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return provider.NewGenerationError(provider.ErrDecodingFailure, err.Error())
	}

	return MapNetworkError(err)
}

// MapAPIError converts an error response of the backend into a
// GenerationError. The status code decides first; the error code, param
// and message refine 400 responses.
func MapAPIError(e *openai.Error) error {
	detail := e.Message
	msg := strings.ToLower(e.Message)

	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return provider.NewGenerationError(provider.ErrRateLimited, detail)

	case e.StatusCode == http.StatusConflict:
		return provider.NewGenerationError(provider.ErrConcurrentRequests, detail)

	case e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusServiceUnavailable:
		return provider.NewGenerationError(provider.ErrAssetsUnavailable, detail)

	case e.Code == "context_length_exceeded" ||
		containsAny(msg, "context length", "context window", "maximum context", "exceeds the available context"):
		return provider.NewGenerationError(provider.ErrExceededContextWindowSize, detail)

	case e.Code == "content_filter" || containsAny(msg, "content filter", "content management policy"):
		return provider.NewGenerationError(provider.ErrGuardrailViolation, detail)

	case e.Code == "unsupported_language" || containsAny(msg, "unsupported language", "unsupported locale"):
		return provider.NewGenerationError(provider.ErrUnsupportedLanguageOrLocale, detail)

	case e.Param == "response_format" || containsAny(msg, "json_schema", "grammar"):
		return provider.NewGenerationError(provider.ErrUnsupportedGuide, detail)

	case e.StatusCode >= http.StatusInternalServerError:
		debug.Log(debug.Providers, "backend server error", "status", e.StatusCode, "message", detail)
		return api.NewRequestFailedError("backend server error")

	default:
		debug.Log(debug.Providers, "backend error", "status", e.StatusCode, "message", detail)
		return api.NewRequestFailedError("backend rejected the request")
	}
}

// MapNetworkError converts a network-level error (connection refused,
// timeout, DNS resolution failure) into an APIError without backend detail.
func MapNetworkError(err error) *api.APIError {
	debug.Log(debug.Providers, "backend connection error", "error", err.Error())
	return api.NewRequestFailedError("backend connection error")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
