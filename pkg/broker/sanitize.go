package broker

import (
	"errors"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// generationMessages are the only texts an engine failure may surface as.
var generationMessages = map[provider.GenerationErrorKind]string{
	provider.ErrAssetsUnavailable:           "Assets unavailable",
	provider.ErrConcurrentRequests:          "Too many simultaneous requests",
	provider.ErrDecodingFailure:             "Decoding failure",
	provider.ErrExceededContextWindowSize:   "Exceeded context window size",
	provider.ErrGuardrailViolation:          "Guardrail violation",
	provider.ErrRateLimited:                 "Rate limited",
	provider.ErrRefusal:                     "Content policy refusal",
	provider.ErrUnsupportedGuide:            "Unsupported guide",
	provider.ErrUnsupportedLanguageOrLocale: "Unsupported language or locale",
}

// SanitizeError maps engine failures to request_failed errors with fixed
// messages. Tool failures keep only the tool error's own message. Any other
// error, nil included, is returned unchanged.
func SanitizeError(err error) error {
	var genErr *provider.GenerationError
	if errors.As(err, &genErr) {
		if msg, ok := generationMessages[genErr.Kind]; ok {
			return api.NewRequestFailedError(msg)
		}
		return err
	}

	var toolErr *provider.ToolCallError
	if errors.As(err, &toolErr) {
		desc := "unknown error"
		if toolErr.Err != nil {
			desc = toolErr.Err.Error()
		}
		return api.NewRequestFailedError("Tool call failed: " + desc)
	}

	return err
}

// errorCode returns the stream event error code of a sanitized error.
func errorCode(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Type)
	}
	return api.StreamErrorUnknown
}
