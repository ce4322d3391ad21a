// Command mock-backend runs a deterministic OpenAI-compatible Chat
// Completions server for exercising the broker end to end. Streams are
// emitted one word per chunk.
//
// The last user message may contain trigger words:
//
//	trigger:rate-limit       - respond 429
//	trigger:context-overflow - respond 400 context_length_exceeded
//	trigger:refuse           - finish with content_filter
//	trigger:slow             - delay every streamed word
//
// Configuration:
//
//	MOCK_PORT       - Listen port (default: 9090)
//	MOCK_MODEL      - Model id reported by /v1/models (default: mock-model)
//	MOCK_WORD_DELAY - Delay between streamed words (default: 0, 250ms with trigger:slow)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := envOrDefault("MOCK_PORT", "9090")

	b := &backend{model: envOrDefault("MOCK_MODEL", "mock-model")}
	if d, err := time.ParseDuration(os.Getenv("MOCK_WORD_DELAY")); err == nil {
		b.wordDelay = d
	}

	srv := &http.Server{Addr: ":" + port, Handler: b.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "model", b.model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

type backend struct {
	model     string
	wordDelay time.Duration
}

func (b *backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", b.handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Handlers ---

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid request body")
		return
	}

	prompt := lastUserMessage(&req)
	switch {
	case strings.Contains(prompt, "trigger:rate-limit"):
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", "rate limit reached")
		return
	case strings.Contains(prompt, "trigger:context-overflow"):
		writeError(w, http.StatusBadRequest, "invalid_request_error", "context_length_exceeded",
			"this model's maximum context length was exceeded")
		return
	}

	text, finish := reply(&req, prompt)

	if req.Stream {
		delay := b.wordDelay
		if delay == 0 && strings.Contains(prompt, "trigger:slow") {
			delay = 250 * time.Millisecond
		}
		b.stream(r.Context(), w, text, finish, countWords(prompt), delay)
		return
	}

	words := countWords(text)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   b.model,
		Choices: []chatChoice{{
			Message:      chatMsg{Role: "assistant", Content: text},
			FinishReason: finish,
		}},
		Usage: chatUsage{
			PromptTokens:     countWords(prompt),
			CompletionTokens: words,
			TotalTokens:      countWords(prompt) + words,
		},
	})
}

// reply derives a deterministic answer from the conversation.
func reply(req *chatRequest, prompt string) (text, finish string) {
	if strings.Contains(prompt, "trigger:refuse") {
		return "I can't", "content_filter"
	}
	if strings.Contains(strings.ToLower(prompt), "count from 1 to 5") {
		return "1, 2, 3, 4, 5", "stop"
	}
	if hasSystemPrompt(req) {
		return "Ahoy there, matey! Welcome aboard!", "stop"
	}
	if prompt == "" {
		return "Hello, nice day!", "stop"
	}
	return "You said: " + prompt, "stop"
}

// stream emits text one word per chunk, keeping the separating space on
// the word that follows it.
func (b *backend) stream(ctx context.Context, w http.ResponseWriter, text, finish string, promptTokens int, delay time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b.writeChunk(w, map[string]any{"role": "assistant"}, nil, nil)
	flusher.Flush()

	words := splitWords(text)
	for _, word := range words {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		b.writeChunk(w, map[string]any{"content": word}, nil, nil)
		flusher.Flush()
	}

	b.writeChunk(w, map[string]any{}, finish, map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": len(words),
		"total_tokens":      promptTokens + len(words),
	})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (b *backend) writeChunk(w http.ResponseWriter, delta map[string]any, finish any, usage map[string]any) {
	chunk := map[string]any{
		"id":      "chatcmpl-mock-stream",
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   b.model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}
	if usage != nil {
		chunk["usage"] = usage
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (b *backend) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": b.model, "object": "model", "created": 0, "owned_by": "lmbroker-mock"},
		},
	})
}

func writeError(w http.ResponseWriter, status int, typ, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": typ, "code": code},
	})
}

// --- Helpers ---

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		switch v := req.Messages[i].Content.(type) {
		case string:
			return v
		case []any:
			for _, part := range v {
				if m, ok := part.(map[string]any); ok && m["type"] == "text" {
					if text, ok := m["text"].(string); ok {
						return text
					}
				}
			}
		}
	}
	return ""
}

func hasSystemPrompt(req *chatRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			return true
		}
	}
	return false
}

// splitWords splits on spaces; every word after the first carries its
// leading space so the chunks concatenate back to text.
func splitWords(text string) []string {
	fields := strings.Split(text, " ")
	out := make([]string, 0, len(fields))
	for i, f := range fields {
		if i > 0 {
			f = " " + f
		}
		out = append(out, f)
	}
	return out
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
