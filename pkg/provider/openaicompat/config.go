package openaicompat

import "time"

// Config holds configuration for the OpenAI-compatible provider.
type Config struct {
	// BaseURL is the server URL without the /v1 suffix (e.g., "http://localhost:8080").
	BaseURL string

	// APIKey for backend authentication (optional).
	APIKey string

	// Model is the model served for the general use case.
	Model string

	// TaggingModel is served for the content tagging use case. Defaults to Model.
	TaggingModel string

	// Timeout for non-streaming requests. Streams are bounded by their
	// context only. Defaults to 120s.
	Timeout time.Duration

	// MaxRetries for transient failures. Defaults to 0 (no retries).
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL, model string) Config {
	return Config{
		BaseURL:    baseURL,
		Model:      model,
		Timeout:    120 * time.Second,
		MaxRetries: 0,
	}
}
