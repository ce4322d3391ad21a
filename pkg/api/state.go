package api

import "fmt"

// StreamState is the lifecycle state of one stream id.
type StreamState string

const (
	StreamIdle      StreamState = "idle"
	StreamRunning   StreamState = "running"
	StreamCompleted StreamState = "completed"
	StreamCancelled StreamState = "cancelled"
	StreamFailed    StreamState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s StreamState) Terminal() bool {
	return s == StreamCompleted || s == StreamCancelled || s == StreamFailed
}

// ValidateStreamTransition checks whether a stream state transition is valid.
// Terminal states (completed, cancelled, failed) do not allow outgoing transitions.
func ValidateStreamTransition(from, to StreamState) *APIError {
	valid := map[StreamState][]StreamState{
		StreamIdle:    {StreamRunning},
		StreamRunning: {StreamCompleted, StreamCancelled, StreamFailed},
	}

	for _, s := range valid[from] {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("state",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
