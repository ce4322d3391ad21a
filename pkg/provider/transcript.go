package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is one piece of content inside a transcript entry.
type Segment interface {
	// Text returns the segment rendered as plain text.
	Text() string
	segment()
}

// TextSegment is plain generated or supplied text.
type TextSegment struct {
	Content string
}

func (s TextSegment) Text() string { return s.Content }
func (TextSegment) segment()       {}

// StructuredSegment is structured (guided) content. Text renders it as
// compact JSON.
type StructuredSegment struct {
	Content json.RawMessage
}

func (s StructuredSegment) Text() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, s.Content); err != nil {
		return string(s.Content)
	}
	return buf.String()
}

func (StructuredSegment) segment() {}

// TranscriptEntry is one entry of a session transcript. The set of entry
// kinds is closed: InstructionsEntry, PromptEntry, ToolCallsEntry,
// ToolOutputEntry and ResponseEntry.
type TranscriptEntry interface {
	EntryID() string
	transcriptEntry()
}

// InstructionsEntry holds the session instructions.
type InstructionsEntry struct {
	ID       string
	Segments []Segment
}

// PromptEntry holds a user prompt.
type PromptEntry struct {
	ID       string
	Segments []Segment
}

// ResponseEntry holds a model response.
type ResponseEntry struct {
	ID       string
	Segments []Segment
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolCallsEntry holds the tool invocations requested in one model turn.
type ToolCallsEntry struct {
	ID    string
	Calls []ToolCall
}

// ToolOutputEntry holds the output of one tool invocation.
type ToolOutputEntry struct {
	ID       string
	ToolName string
	Segments []Segment
}

func (e InstructionsEntry) EntryID() string { return e.ID }
func (e PromptEntry) EntryID() string       { return e.ID }
func (e ResponseEntry) EntryID() string     { return e.ID }
func (e ToolCallsEntry) EntryID() string    { return e.ID }
func (e ToolOutputEntry) EntryID() string   { return e.ID }

func (InstructionsEntry) transcriptEntry() {}
func (PromptEntry) transcriptEntry()       {}
func (ResponseEntry) transcriptEntry()     {}
func (ToolCallsEntry) transcriptEntry()    {}
func (ToolOutputEntry) transcriptEntry()   {}

// String describes the requested calls, e.g. "ToolCalls(get_weather({"city":"Bern"}))".
func (e ToolCallsEntry) String() string {
	calls := make([]string, len(e.Calls))
	for i, c := range e.Calls {
		args := StructuredSegment{Content: c.Arguments}.Text()
		if args == "" {
			args = "{}"
		}
		calls[i] = fmt.Sprintf("%s(%s)", c.Name, args)
	}
	return fmt.Sprintf("ToolCalls(%s)", strings.Join(calls, ", "))
}

// String describes the tool output, e.g. "ToolOutput(get_weather: 21C)".
func (e ToolOutputEntry) String() string {
	texts := make([]string, len(e.Segments))
	for i, s := range e.Segments {
		texts[i] = s.Text()
	}
	return fmt.Sprintf("ToolOutput(%s: %s)", e.ToolName, strings.Join(texts, "\n"))
}

// Text returns a single text segment slice, the common case for prompts
// and plain responses.
func Text(s string) []Segment {
	return []Segment{TextSegment{Content: s}}
}
