package transport

import (
	"context"

	"github.com/rhuss/lmbroker/pkg/api"
)

// SessionBroker handles the inbound session and streaming operations. It is
// the primary handler contract between the transport and the broker.
type SessionBroker interface {
	// CheckAvailability reports whether the engine can serve requests.
	// Unavailability is a result, not an error.
	CheckAvailability(ctx context.Context) (*api.AvailabilityResponse, error)

	// CreateSession creates the session, replacing any session with the same id.
	CreateSession(ctx context.Context, req *api.SessionRequest) error

	// PrewarmSession asks the engine to warm up the session.
	PrewarmSession(ctx context.Context, sessionID string) error

	// SendPrompt generates a complete response.
	SendPrompt(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)

	// DisposeSession drops the session. Unknown ids are not an error.
	DisposeSession(ctx context.Context, sessionID string) error

	// StartStream starts a streaming generation. It returns once the stream
	// is registered; output is delivered to the attached EventSink.
	StartStream(ctx context.Context, req *api.StreamRequest) error

	// StopStream cancels a stream and waits for its final event. Unknown
	// ids are not an error.
	StopStream(ctx context.Context, streamID string) error

	// AttachSink installs the single event sink, replacing any previous one.
	AttachSink(sink EventSink)

	// DetachSink removes sink if it is still the attached sink and cancels
	// every outstanding stream without waiting for them.
	DetachSink(sink EventSink)
}

// EventSink receives stream events. Events of one stream arrive in order.
// Send may block to apply backpressure but must return once the sink is
// no longer usable. Implementations must be comparable (pointer types),
// since DetachSink matches the attached sink by identity.
type EventSink interface {
	Send(event api.StreamEvent)
}

// ListOptions controls pagination and ordering for list operations.
type ListOptions struct {
	After  string // Cursor: return items after this ID.
	Before string // Cursor: return items before this ID.
	Limit  int    // Maximum number of items to return (default 20, max 100).
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// ExchangeStore handles persistence and retrieval of completed exchanges.
// It is only available when persistence is configured.
type ExchangeStore interface {
	// SaveExchange persists a completed exchange.
	SaveExchange(ctx context.Context, ex *api.Exchange) error

	// GetExchange retrieves an exchange by ID. Returns storage.ErrNotFound
	// if the exchange does not exist or has been deleted.
	GetExchange(ctx context.Context, id string) (*api.Exchange, error)

	// DeleteExchange soft-deletes an exchange by ID.
	DeleteExchange(ctx context.Context, id string) error

	// ListExchanges returns a paginated list of a session's exchanges,
	// filtered by tenant when present in context.
	ListExchanges(ctx context.Context, sessionID string, opts ListOptions) (*api.ExchangeList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}
