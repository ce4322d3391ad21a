package provider

import (
	"context"
)

// Provider abstracts a language model engine.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai-compatible").
	Name() string

	// Availability reports whether the engine can currently serve requests.
	Availability(ctx context.Context) (Availability, error)

	// CreateSession returns a new session seeded with the given instructions.
	CreateSession(ctx context.Context, instructions string, cfg ModelConfig) (Session, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Session is a stateful conversation with the engine. A session accepts one
// request at a time; a concurrent request fails with a GenerationError of
// kind ErrConcurrentRequests.
type Session interface {
	// Prewarm asks the engine to load resources ahead of the first prompt.
	// It does not wait for the warm-up to finish.
	Prewarm(ctx context.Context) error

	// Respond generates a complete response to prompt.
	Respond(ctx context.Context, prompt string, opts GenerationOptions) (*Response, error)

	// StreamResponse generates a response as a sequence of cumulative
	// snapshots. The returned channel is closed by the session when the
	// generation completes, fails, or ctx is cancelled. A failure arrives as
	// a final Snapshot with Err set. The sequence cannot be restarted.
	StreamResponse(ctx context.Context, prompt string, opts GenerationOptions) (<-chan Snapshot, error)

	// Transcript returns a copy of the session's transcript so far.
	Transcript() []TranscriptEntry
}
