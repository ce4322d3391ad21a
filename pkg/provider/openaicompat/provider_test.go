package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// fakeBackend is a minimal OpenAI-compatible server. Requests are recorded
// so tests can assert on the translated body.
type fakeBackend struct {
	mu       sync.Mutex
	requests []map[string]any

	models      []string
	modelsCode  int
	chatCode    int
	reply       string
	finish      string
	refusal     string
	streamParts []string
}

func (b *fakeBackend) lastRequest() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/models":
		if b.modelsCode != 0 {
			writeError(w, b.modelsCode, "models unavailable")
			return
		}
		data := make([]map[string]any, len(b.models))
		for i, m := range b.models {
			data[i] = map[string]any{"id": m, "object": "model", "created": 0, "owned_by": "test"}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})

	case "/v1/chat/completions":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.requests = append(b.requests, body)
		b.mu.Unlock()

		if b.chatCode != 0 {
			writeError(w, b.chatCode, "backend failure with internal detail")
			return
		}
		if stream, _ := body["stream"].(bool); stream {
			b.writeStream(w)
			return
		}
		finish := b.finish
		if finish == "" {
			finish = "stop"
		}
		message := map[string]any{"role": "assistant", "content": b.reply}
		if b.refusal != "" {
			message["refusal"] = b.refusal
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": body["model"],
			"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
			"usage":   map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})

	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) writeStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, part := range b.streamParts {
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON(part, nil))
		flusher.Flush()
	}
	finish := b.finish
	if finish == "" {
		finish = "stop"
	}
	fmt.Fprintf(w, "data: %s\n\n", chunkJSON("", &finish))
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func chunkJSON(content string, finish *string) string {
	choice := map[string]any{"index": 0, "delta": map[string]any{"content": content}}
	if finish != nil {
		choice["finish_reason"] = *finish
	}
	data, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 0, "model": "test-model",
		"choices": []map[string]any{choice},
	})
	return string(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "server_error"},
	})
}

func newTestProvider(t *testing.T, b *fakeBackend) *Provider {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	p, err := New(Config{BaseURL: srv.URL + "/", Model: "test-model", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Error("expected error for missing BaseURL")
	}
	if _, err := New(Config{BaseURL: "http://localhost:8080"}); err == nil {
		t.Error("expected error for missing Model")
	}
}

func TestProvider_Availability(t *testing.T) {
	tests := []struct {
		name       string
		backend    *fakeBackend
		wantAvail  bool
		wantReason provider.UnavailableReason
	}{
		{"model served", &fakeBackend{models: []string{"other", "test-model"}}, true, ""},
		{"model missing", &fakeBackend{models: []string{"other"}}, false, provider.ReasonModelNotEnabled},
		{"backend loading", &fakeBackend{modelsCode: http.StatusServiceUnavailable}, false, provider.ReasonModelNotReady},
		{"unauthorized", &fakeBackend{modelsCode: http.StatusUnauthorized}, false, provider.ReasonDeviceNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, tt.backend)
			avail, err := p.Availability(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if avail.Available != tt.wantAvail || avail.Reason != tt.wantReason {
				t.Errorf("Availability() = %+v, want available=%v reason=%q", avail, tt.wantAvail, tt.wantReason)
			}
		})
	}
}

func TestProvider_AvailabilityUnreachable(t *testing.T) {
	p, err := New(Config{BaseURL: "http://127.0.0.1:1", Model: "m", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	avail, err := p.Availability(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.Available || avail.Reason != provider.ReasonModelNotReady {
		t.Errorf("Availability() = %+v, want model_not_ready", avail)
	}
}

func TestSession_Respond(t *testing.T) {
	b := &fakeBackend{reply: "Hello there"}
	p := newTestProvider(t, b)

	sess, err := p.CreateSession(context.Background(), "Be brief.", provider.DefaultModelConfig())
	if err != nil {
		t.Fatal(err)
	}

	temp := 0.3
	resp, err := sess.Respond(context.Background(), "Hi", provider.GenerationOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if !strings.Contains(resp.RawContent, "chatcmpl-1") {
		t.Errorf("RawContent should carry the raw response, got %q", resp.RawContent)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if len(resp.Transcript) != 2 {
		t.Fatalf("len(Transcript) = %d, want 2", len(resp.Transcript))
	}
	if _, ok := resp.Transcript[0].(provider.PromptEntry); !ok {
		t.Errorf("Transcript[0] = %T, want PromptEntry", resp.Transcript[0])
	}

	req := b.lastRequest()
	msgs := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Errorf("first message role = %v, want system", role)
	}
	if req["temperature"] != 0.3 {
		t.Errorf("temperature = %v, want 0.3", req["temperature"])
	}

	// The second prompt carries the first exchange as history.
	if _, err := sess.Respond(context.Background(), "Again", provider.GenerationOptions{}); err != nil {
		t.Fatal(err)
	}
	if msgs := b.lastRequest()["messages"].([]any); len(msgs) != 4 {
		t.Errorf("expected 4 messages with history, got %d", len(msgs))
	}
	if got := len(sess.Transcript()); got != 5 {
		t.Errorf("len(Transcript()) = %d, want 5 (instructions + 2 exchanges)", got)
	}
}

func TestSession_RespondSampling(t *testing.T) {
	tests := []struct {
		name   string
		mode   provider.SamplingMode
		key    string
		want   any
		absent string
	}{
		{"top-k", provider.SamplingMode{Kind: provider.SamplingTopK, TopK: 40}, "top_k", float64(40), "top_p"},
		{"threshold", provider.SamplingMode{Kind: provider.SamplingProbabilityThreshold, Threshold: 0.9}, "top_p", 0.9, "top_k"},
		{"greedy", provider.SamplingMode{Kind: provider.SamplingGreedy}, "temperature", float64(0), "top_p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{reply: "ok"}
			p := newTestProvider(t, b)
			sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

			mode := tt.mode
			if _, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{Sampling: &mode}); err != nil {
				t.Fatal(err)
			}
			req := b.lastRequest()
			if req[tt.key] != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, req[tt.key], tt.want)
			}
			if _, ok := req[tt.absent]; ok {
				t.Errorf("%s should not be set", tt.absent)
			}
		})
	}
}

func TestSession_RespondMaxTokens(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	p := newTestProvider(t, b)
	sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

	n := 64
	if _, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{MaximumResponseTokens: &n}); err != nil {
		t.Fatal(err)
	}
	if got := b.lastRequest()["max_tokens"]; got != float64(64) {
		t.Errorf("max_tokens = %v, want 64", got)
	}
}

func TestSession_RespondErrors(t *testing.T) {
	tests := []struct {
		name     string
		backend  *fakeBackend
		cfg      provider.ModelConfig
		wantKind provider.GenerationErrorKind
	}{
		{"rate limited", &fakeBackend{chatCode: http.StatusTooManyRequests}, provider.DefaultModelConfig(), provider.ErrRateLimited},
		{"model missing", &fakeBackend{chatCode: http.StatusNotFound}, provider.DefaultModelConfig(), provider.ErrAssetsUnavailable},
		{"refusal", &fakeBackend{refusal: "I can't help with that"}, provider.DefaultModelConfig(), provider.ErrRefusal},
		{"content filter", &fakeBackend{reply: "partial", finish: "content_filter"}, provider.DefaultModelConfig(), provider.ErrGuardrailViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, tt.backend)
			sess, _ := p.CreateSession(context.Background(), "", tt.cfg)

			_, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{})
			var genErr *provider.GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("expected GenerationError, got %T: %v", err, err)
			}
			if genErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", genErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestSession_PermissiveGuardrailsKeepFilteredOutput(t *testing.T) {
	p := newTestProvider(t, &fakeBackend{reply: "partial", finish: "content_filter"})
	cfg := provider.ModelConfig{UseCase: provider.UseCaseGeneral, Guardrails: provider.GuardrailsPermissiveContentTransformations}
	sess, _ := p.CreateSession(context.Background(), "", cfg)

	resp, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "partial" {
		t.Errorf("Content = %q, want partial", resp.Content)
	}
}

func TestSession_ServerErrorHidesDetail(t *testing.T) {
	p := newTestProvider(t, &fakeBackend{chatCode: http.StatusInternalServerError})
	sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

	_, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{})
	if !api.IsType(err, api.ErrorTypeRequestFailed) {
		t.Fatalf("expected request_failed, got %v", err)
	}
	if strings.Contains(err.Error(), "internal detail") {
		t.Errorf("error leaks backend detail: %v", err)
	}
}

func TestSession_StreamResponse(t *testing.T) {
	b := &fakeBackend{streamParts: []string{"Hel", "lo", " world"}}
	p := newTestProvider(t, b)
	sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

	ch, err := sess.StreamResponse(context.Background(), "Hi", provider.GenerationOptions{})
	if err != nil {
		t.Fatalf("StreamResponse: %v", err)
	}

	var got []string
	for snap := range ch {
		if snap.Err != nil {
			t.Fatalf("unexpected error snapshot: %v", snap.Err)
		}
		got = append(got, snap.Content)
	}
	want := []string{"Hel", "Hello", "Hello world"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("snapshots = %q, want %q", got, want)
	}
	if stream, _ := b.lastRequest()["stream"].(bool); !stream {
		t.Error("expected stream=true in request")
	}
	if n := len(sess.Transcript()); n != 2 {
		t.Errorf("len(Transcript()) = %d, want 2 after completed stream", n)
	}
}

func TestSession_StreamResponseContentFilter(t *testing.T) {
	p := newTestProvider(t, &fakeBackend{streamParts: []string{"bad"}, finish: "content_filter"})
	sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

	ch, err := sess.StreamResponse(context.Background(), "x", provider.GenerationOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var last provider.Snapshot
	for snap := range ch {
		last = snap
	}
	var genErr *provider.GenerationError
	if !errors.As(last.Err, &genErr) || genErr.Kind != provider.ErrGuardrailViolation {
		t.Errorf("last snapshot error = %v, want guardrail violation", last.Err)
	}
	if n := len(sess.Transcript()); n != 0 {
		t.Errorf("failed stream should not be recorded, transcript has %d entries", n)
	}
}

func TestSession_ConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()
	defer close(release)

	p, _ := New(Config{BaseURL: srv.URL, Model: "m"})
	sess, _ := p.CreateSession(context.Background(), "", provider.DefaultModelConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := sess.StreamResponse(ctx, "first", provider.GenerationOptions{}); err != nil {
		t.Fatal(err)
	}

	_, err := sess.Respond(context.Background(), "second", provider.GenerationOptions{})
	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != provider.ErrConcurrentRequests {
		t.Errorf("expected concurrent requests error, got %v", err)
	}
}

func TestProvider_TaggingModel(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	srv := httptest.NewServer(b)
	defer srv.Close()

	p, _ := New(Config{BaseURL: srv.URL, Model: "general", TaggingModel: "tagger"})
	sess, _ := p.CreateSession(context.Background(), "", provider.ModelConfig{UseCase: provider.UseCaseContentTagging})
	if _, err := sess.Respond(context.Background(), "x", provider.GenerationOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := b.lastRequest()["model"]; got != "tagger" {
		t.Errorf("model = %v, want tagger", got)
	}
}
