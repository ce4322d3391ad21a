package provider

import "fmt"

// GenerationErrorKind classifies an engine failure.
type GenerationErrorKind int

const (
	ErrAssetsUnavailable GenerationErrorKind = iota + 1
	ErrConcurrentRequests
	ErrDecodingFailure
	ErrExceededContextWindowSize
	ErrGuardrailViolation
	ErrRateLimited
	ErrRefusal
	ErrUnsupportedGuide
	ErrUnsupportedLanguageOrLocale
)

var kindNames = map[GenerationErrorKind]string{
	ErrAssetsUnavailable:           "assets_unavailable",
	ErrConcurrentRequests:          "concurrent_requests",
	ErrDecodingFailure:             "decoding_failure",
	ErrExceededContextWindowSize:   "exceeded_context_window_size",
	ErrGuardrailViolation:          "guardrail_violation",
	ErrRateLimited:                 "rate_limited",
	ErrRefusal:                     "refusal",
	ErrUnsupportedGuide:            "unsupported_guide",
	ErrUnsupportedLanguageOrLocale: "unsupported_language_or_locale",
}

func (k GenerationErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("generation_error(%d)", int(k))
}

// GenerationError is a classified engine failure. Debug carries the raw
// backend detail and must never reach an external caller.
type GenerationError struct {
	Kind  GenerationErrorKind
	Debug string
}

func (e *GenerationError) Error() string {
	if e.Debug == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Debug)
}

// NewGenerationError creates a GenerationError of the given kind.
func NewGenerationError(kind GenerationErrorKind, debug string) *GenerationError {
	return &GenerationError{Kind: kind, Debug: debug}
}

// ToolCallError reports that a tool invoked by the engine failed.
type ToolCallError struct {
	Tool string
	Err  error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolCallError) Unwrap() error {
	return e.Err
}
