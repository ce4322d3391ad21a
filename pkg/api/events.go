package api

// Stream error codes that are not derived from an ErrorType.
const (
	StreamErrorCancelled = "cancelled"
	StreamErrorUnknown   = "unknown"
)

// StreamEvent is one event on the outbound event channel. Every stream
// produces zero or more non-final events followed by exactly one event with
// IsFinal set.
type StreamEvent struct {
	StreamID     string  `json:"streamId"`
	Delta        *string `json:"delta,omitempty"`
	Cumulative   *string `json:"cumulative,omitempty"`
	RawContent   *string `json:"rawContent,omitempty"`
	IsFinal      bool    `json:"isFinal"`
	ErrorCode    *string `json:"errorCode,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// Failed reports whether a final event carries an error, cancellation included.
func (e StreamEvent) Failed() bool {
	return e.ErrorCode != nil
}

// Optional returns a pointer to s, or nil when s is empty. Events use it so
// that empty deltas and snapshots are omitted from the wire.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
