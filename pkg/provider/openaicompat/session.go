package openaicompat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// session keeps the conversation state that the stateless Chat Completions
// backend does not.
type session struct {
	p     *Provider
	model string
	cfg   provider.ModelConfig

	// responding is set while a generation is in flight.
	responding atomic.Bool

	mu         sync.Mutex
	messages   []openai.ChatCompletionMessageParamUnion
	transcript []provider.TranscriptEntry
}

var _ provider.Session = (*session)(nil)

func newSession(p *Provider, model, instructions string, cfg provider.ModelConfig) *session {
	s := &session{p: p, model: model, cfg: cfg}
	if instructions != "" {
		s.messages = append(s.messages, openai.SystemMessage(instructions))
		s.transcript = append(s.transcript, provider.InstructionsEntry{
			ID:       uuid.NewString(),
			Segments: provider.Text(instructions),
		})
	}
	return s
}

// Prewarm sends a one-token request carrying the session instructions so the
// backend loads the model and caches the prompt prefix. It returns at once.
func (s *session) Prewarm(_ context.Context) error {
	s.mu.Lock()
	history := append([]openai.ChatCompletionMessageParamUnion(nil), s.messages...)
	s.mu.Unlock()
	if len(history) == 0 {
		history = append(history, openai.SystemMessage(""))
	}

	params := openai.ChatCompletionNewParams{
		Messages:  history,
		Model:     s.model,
		MaxTokens: openai.Int(1),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.p.cfg.Timeout)
		defer cancel()
		if _, err := s.p.client.Chat.Completions.New(ctx, params); err != nil {
			slog.Warn("prewarm failed", "model", s.model, "error", MapError(err).Error())
			return
		}
		debug.Log(debug.Providers, "prewarm complete", "model", s.model)
	}()
	return nil
}

// Respond performs a non-streaming completion.
func (s *session) Respond(ctx context.Context, prompt string, opts provider.GenerationOptions) (*provider.Response, error) {
	if !s.responding.CompareAndSwap(false, true) {
		return nil, provider.NewGenerationError(provider.ErrConcurrentRequests, "session is already responding")
	}
	defer s.responding.Store(false)

	params, reqOpts := buildParams(s.model, s.history(), prompt, opts)
	reqOpts = append(reqOpts, option.WithRequestTimeout(s.p.cfg.Timeout))

	debug.Log(debug.Providers, "chat completion", "model", s.model, "stream", false)
	resp, err := s.p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, MapError(err)
	}
	debug.Dump(debug.Providers, "chat completion response", resp.RawJSON(), 4096)

	if len(resp.Choices) == 0 {
		return nil, provider.NewGenerationError(provider.ErrDecodingFailure, "no choices returned")
	}
	choice := resp.Choices[0]
	if err := s.checkFinish(choice.FinishReason, choice.Message.Refusal); err != nil {
		return nil, err
	}

	return &provider.Response{
		Content:    choice.Message.Content,
		RawContent: resp.RawJSON(),
		Transcript: s.record(prompt, choice.Message.Content),
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Transcript returns a copy of the session transcript.
func (s *session) Transcript() []provider.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.TranscriptEntry(nil), s.transcript...)
}

func (s *session) history() []openai.ChatCompletionMessageParamUnion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionMessageParamUnion(nil), s.messages...)
}

// record appends a completed exchange to the history and returns the new
// transcript entries.
func (s *session) record(prompt, content string) []provider.TranscriptEntry {
	entries := []provider.TranscriptEntry{
		provider.PromptEntry{ID: uuid.NewString(), Segments: provider.Text(prompt)},
		provider.ResponseEntry{ID: uuid.NewString(), Segments: provider.Text(content)},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, openai.UserMessage(prompt), openai.AssistantMessage(content))
	s.transcript = append(s.transcript, entries...)
	return entries
}

// checkFinish turns refusals and content-filter stops into errors. Sessions
// with permissive guardrails keep whatever was generated before the filter
// stopped the output.
func (s *session) checkFinish(finishReason, refusal string) error {
	if refusal != "" {
		return provider.NewGenerationError(provider.ErrRefusal, refusal)
	}
	if finishReason == "content_filter" && s.cfg.Guardrails != provider.GuardrailsPermissiveContentTransformations {
		return provider.NewGenerationError(provider.ErrGuardrailViolation, "output stopped by content filter")
	}
	return nil
}
