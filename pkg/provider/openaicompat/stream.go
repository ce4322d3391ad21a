package openaicompat

import (
	"context"
	"strings"

	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// StreamResponse performs a streaming completion. Chunk deltas are
// accumulated so every snapshot carries the full text generated so far.
// The channel is closed when the stream completes, errors, or ctx is
// cancelled. Unlike Respond there is no request timeout; ctx alone ends
// the stream.
func (s *session) StreamResponse(ctx context.Context, prompt string, opts provider.GenerationOptions) (<-chan provider.Snapshot, error) {
	if !s.responding.CompareAndSwap(false, true) {
		return nil, provider.NewGenerationError(provider.ErrConcurrentRequests, "session is already responding")
	}

	params, reqOpts := buildParams(s.model, s.history(), prompt, opts)

	debug.Log(debug.Providers, "chat completion", "model", s.model, "stream", true)
	stream := s.p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)

	ch := make(chan provider.Snapshot, 16)

	go func() {
		defer close(ch)
		defer s.responding.Store(false)
		defer stream.Close()

		var content, refusal strings.Builder
		var finishReason, raw string

		for stream.Next() {
			chunk := stream.Current()
			raw = chunk.RawJSON()
			debug.Dump(debug.Providers, "chunk", raw, 500)

			for _, choice := range chunk.Choices {
				refusal.WriteString(choice.Delta.Refusal)
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
				if choice.Delta.Content == "" {
					continue
				}
				content.WriteString(choice.Delta.Content)
				if !send(ctx, ch, provider.Snapshot{Content: content.String(), RawContent: raw}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, ch, provider.Snapshot{Content: content.String(), RawContent: raw, Err: MapError(err)})
			return
		}
		if err := s.checkFinish(finishReason, refusal.String()); err != nil {
			send(ctx, ch, provider.Snapshot{Content: content.String(), RawContent: raw, Err: err})
			return
		}

		s.record(prompt, content.String())
	}()

	return ch, nil
}

// send delivers snap unless ctx is cancelled first.
func send(ctx context.Context, ch chan<- provider.Snapshot, snap provider.Snapshot) bool {
	select {
	case ch <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
