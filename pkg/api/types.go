package api

import "time"

// GuardrailLevel selects the content guardrails a session is created with.
type GuardrailLevel string

const (
	GuardrailStrict     GuardrailLevel = "strict"
	GuardrailStandard   GuardrailLevel = "standard"
	GuardrailPermissive GuardrailLevel = "permissive"
)

// TranscriptRole identifies the kind of a transcript entry.
type TranscriptRole string

const (
	RoleInstructions TranscriptRole = "instructions"
	RolePrompt       TranscriptRole = "prompt"
	RoleToolCalls    TranscriptRole = "tool_calls"
	RoleToolOutput   TranscriptRole = "tool_output"
	RoleResponse     TranscriptRole = "response"
)

// GenerationOptions tunes a single generation. Every field is optional; a nil
// field leaves the engine default in place.
type GenerationOptions struct {
	Temperature                  *float64 `json:"temperature,omitempty"`
	MaximumResponseTokens        *int     `json:"maximumResponseTokens,omitempty"`
	SamplingTopK                 *int     `json:"samplingTopK,omitempty"`
	SamplingProbabilityThreshold *float64 `json:"samplingProbabilityThreshold,omitempty"`
}

// SessionRequest creates (or replaces) the session with the given id.
type SessionRequest struct {
	SessionID      string          `json:"sessionId"`
	Instructions   string          `json:"instructions,omitempty"`
	GuardrailLevel *GuardrailLevel `json:"guardrailLevel,omitempty"`
}

// ChatRequest sends one prompt to an existing session and waits for the
// complete response.
type ChatRequest struct {
	SessionID string             `json:"sessionId"`
	Prompt    string             `json:"prompt"`
	Options   *GenerationOptions `json:"options,omitempty"`
}

// ChatResponse is the result of a ChatRequest.
type ChatResponse struct {
	Content           string            `json:"content"`
	RawContent        string            `json:"rawContent"`
	TranscriptEntries []TranscriptEntry `json:"transcriptEntries"`
	ErrorMessage      *string           `json:"errorMessage,omitempty"`
}

// StreamRequest starts a streaming generation identified by StreamID.
type StreamRequest struct {
	StreamID  string             `json:"streamId"`
	SessionID string             `json:"sessionId"`
	Prompt    string             `json:"prompt"`
	Options   *GenerationOptions `json:"options,omitempty"`
}

// AvailabilityResponse reports whether the engine can serve requests.
type AvailabilityResponse struct {
	IsAvailable  bool    `json:"isAvailable"`
	OSVersion    string  `json:"osVersion"`
	ReasonCode   *string `json:"reasonCode,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// TranscriptEntry is one flattened entry of a session transcript.
type TranscriptEntry struct {
	ID       string         `json:"id"`
	Role     TranscriptRole `json:"role"`
	Content  string         `json:"content"`
	Segments []string       `json:"segments,omitempty"`
}

// Exchange is a completed prompt and response recorded for a session.
type Exchange struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"sessionId"`
	StreamID          string            `json:"streamId,omitempty"`
	Prompt            string            `json:"prompt"`
	Content           string            `json:"content"`
	TranscriptEntries []TranscriptEntry `json:"transcriptEntries,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// ExchangeList is a page of exchanges.
type ExchangeList struct {
	Object  string     `json:"object"`
	Data    []Exchange `json:"data"`
	HasMore bool       `json:"hasMore"`
	FirstID string     `json:"firstId,omitempty"`
	LastID  string     `json:"lastId,omitempty"`
}
