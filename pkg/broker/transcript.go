package broker

import (
	"strings"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// MapTranscript flattens engine transcript entries into wire entries,
// preserving order. Segmented entries join their segment texts with
// newlines; tool entries are described by their String form.
func MapTranscript(entries []provider.TranscriptEntry) []api.TranscriptEntry {
	out := make([]api.TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		switch e := e.(type) {
		case provider.InstructionsEntry:
			out = append(out, segmented(e.ID, api.RoleInstructions, e.Segments))
		case provider.PromptEntry:
			out = append(out, segmented(e.ID, api.RolePrompt, e.Segments))
		case provider.ResponseEntry:
			out = append(out, segmented(e.ID, api.RoleResponse, e.Segments))
		case provider.ToolCallsEntry:
			out = append(out, described(e.ID, api.RoleToolCalls, e.String()))
		case provider.ToolOutputEntry:
			out = append(out, described(e.ID, api.RoleToolOutput, e.String()))
		}
	}
	return out
}

func segmented(id string, role api.TranscriptRole, segments []provider.Segment) api.TranscriptEntry {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text()
	}
	return api.TranscriptEntry{
		ID:       id,
		Role:     role,
		Content:  strings.Join(texts, "\n"),
		Segments: texts,
	}
}

func described(id string, role api.TranscriptRole, desc string) api.TranscriptEntry {
	return api.TranscriptEntry{
		ID:       id,
		Role:     role,
		Content:  desc,
		Segments: []string{desc},
	}
}
