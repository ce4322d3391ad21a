package provider

// UseCase selects the model variant a session runs on.
type UseCase string

const (
	UseCaseGeneral        UseCase = "general"
	UseCaseContentTagging UseCase = "content_tagging"
)

// Guardrails selects how the engine treats unsafe content.
type Guardrails string

const (
	// GuardrailsDefault blocks unsafe input and output.
	GuardrailsDefault Guardrails = "default"

	// GuardrailsPermissiveContentTransformations allows transforming
	// potentially unsafe text supplied by the user (summaries, rewrites).
	GuardrailsPermissiveContentTransformations Guardrails = "permissive_content_transformations"
)

// ModelConfig selects the model a session is created against.
type ModelConfig struct {
	UseCase    UseCase
	Guardrails Guardrails
}

// DefaultModelConfig returns the engine's default model configuration.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{UseCase: UseCaseGeneral, Guardrails: GuardrailsDefault}
}

// SamplingKind identifies a sampling strategy.
type SamplingKind int

const (
	SamplingGreedy SamplingKind = iota + 1
	SamplingTopK
	SamplingProbabilityThreshold
)

// SamplingMode is the sampling strategy of a generation. Only the field
// matching Kind is meaningful.
type SamplingMode struct {
	Kind      SamplingKind
	TopK      int
	Threshold float64
}

// GenerationOptions tunes one generation. Nil fields leave the engine
// default in place.
type GenerationOptions struct {
	Temperature           *float64
	MaximumResponseTokens *int
	Sampling              *SamplingMode
}

// Response is the result of a complete generation.
type Response struct {
	Content    string
	RawContent string

	// Transcript holds the entries added to the session by this exchange.
	Transcript []TranscriptEntry

	Usage Usage
}

// Usage reports token counts for one generation, when the engine provides them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Snapshot is one element of a streamed generation. Content is the
// cumulative text generated so far. A snapshot with Err set is the last one.
type Snapshot struct {
	Content    string
	RawContent string
	Err        error
}

// UnavailableReason explains why the engine cannot serve requests.
type UnavailableReason string

const (
	ReasonDeviceNotEligible UnavailableReason = "device_not_eligible"
	ReasonModelNotEnabled   UnavailableReason = "model_not_enabled"
	ReasonModelNotReady     UnavailableReason = "model_not_ready"
	ReasonUnknown           UnavailableReason = "unknown"
)

// Message returns a human-readable explanation of the reason.
func (r UnavailableReason) Message() string {
	switch r {
	case ReasonDeviceNotEligible:
		return "Device not eligible for local language models"
	case ReasonModelNotEnabled:
		return "The language model is not enabled. Update the engine configuration to proceed."
	case ReasonModelNotReady:
		return "The language model is preparing assets. Please try again shortly."
	default:
		return "Language model unavailable: " + string(r)
	}
}

// Availability is the engine's current readiness.
type Availability struct {
	Available bool
	Reason    UnavailableReason
}
