package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
	"github.com/rhuss/lmbroker/pkg/storage"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// mockProvider is a configurable provider for broker tests.
type mockProvider struct {
	mu               sync.Mutex
	avail            provider.Availability
	availErr         error
	createErr        error
	created          int
	lastInstructions string
	lastConfig       provider.ModelConfig
	sessions         []*mockSession

	// newSession customizes sessions before they are handed out.
	newSession func(*mockSession)
}

func newMockProvider() *mockProvider {
	return &mockProvider{avail: provider.Availability{Available: true}}
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Availability(ctx context.Context) (provider.Availability, error) {
	return p.avail, p.availErr
}

func (p *mockProvider) CreateSession(ctx context.Context, instructions string, cfg provider.ModelConfig) (provider.Session, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	p.lastInstructions = instructions
	p.lastConfig = cfg
	s := &mockSession{}
	if p.newSession != nil {
		p.newSession(s)
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *mockProvider) Close() error { return nil }

// mockSession answers with canned responses and snapshot sequences.
type mockSession struct {
	mu         sync.Mutex
	prewarmed  int
	prewarmErr error
	prompts    []string
	lastOpts   provider.GenerationOptions
	transcript []provider.TranscriptEntry

	respond func(prompt string) (*provider.Response, error)
	stream  func(ctx context.Context, prompt string) (<-chan provider.Snapshot, error)
}

func (s *mockSession) Prewarm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prewarmed++
	return s.prewarmErr
}

func (s *mockSession) Respond(ctx context.Context, prompt string, opts provider.GenerationOptions) (*provider.Response, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.lastOpts = opts
	s.mu.Unlock()

	if s.respond != nil {
		return s.respond(prompt)
	}
	entries := []provider.TranscriptEntry{
		provider.PromptEntry{ID: "p", Segments: provider.Text(prompt)},
		provider.ResponseEntry{ID: "r", Segments: provider.Text("echo: " + prompt)},
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, entries...)
	s.mu.Unlock()
	return &provider.Response{
		Content:    "echo: " + prompt,
		RawContent: `"echo: ` + prompt + `"`,
		Transcript: entries,
		Usage:      provider.Usage{InputTokens: 3, OutputTokens: 4},
	}, nil
}

func (s *mockSession) StreamResponse(ctx context.Context, prompt string, opts provider.GenerationOptions) (<-chan provider.Snapshot, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.lastOpts = opts
	s.mu.Unlock()

	if s.stream != nil {
		return s.stream(ctx, prompt)
	}
	ch := snapshots("Hello", "Hello world")
	s.mu.Lock()
	s.transcript = append(s.transcript,
		provider.PromptEntry{ID: "p", Segments: provider.Text(prompt)},
		provider.ResponseEntry{ID: "r", Segments: provider.Text("Hello world")},
	)
	s.mu.Unlock()
	return ch, nil
}

func (s *mockSession) Transcript() []provider.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.TranscriptEntry(nil), s.transcript...)
}

// snapshots returns a closed channel holding one snapshot per text.
func snapshots(texts ...string) <-chan provider.Snapshot {
	ch := make(chan provider.Snapshot, len(texts))
	for _, text := range texts {
		ch <- provider.Snapshot{Content: text, RawContent: `"` + text + `"`}
	}
	close(ch)
	return ch
}

// blockingStream never produces a snapshot and closes once ctx is done.
func blockingStream(ctx context.Context, _ string) (<-chan provider.Snapshot, error) {
	ch := make(chan provider.Snapshot)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// recordingSink collects delivered events.
type recordingSink struct {
	mu     sync.Mutex
	events []api.StreamEvent
	finals chan api.StreamEvent
}

var _ transport.EventSink = (*recordingSink)(nil)

func newRecordingSink() *recordingSink {
	return &recordingSink{finals: make(chan api.StreamEvent, 16)}
}

func (s *recordingSink) Send(ev api.StreamEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if ev.IsFinal {
		s.finals <- ev
	}
}

func (s *recordingSink) Events() []api.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.StreamEvent(nil), s.events...)
}

// eventsFor returns the delivered events of one stream.
func (s *recordingSink) eventsFor(streamID string) []api.StreamEvent {
	var out []api.StreamEvent
	for _, ev := range s.Events() {
		if ev.StreamID == streamID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) awaitFinal(t *testing.T) api.StreamEvent {
	t.Helper()
	select {
	case ev := <-s.finals:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final event")
		return api.StreamEvent{}
	}
}

// memoryStore is an in-memory ExchangeStore.
type memoryStore struct {
	mu        sync.Mutex
	exchanges []*api.Exchange
	tenants   []string
	saveErr   error
	healthErr error

	// hang blocks SaveExchange until ctx is done.
	hang bool
}

func (m *memoryStore) SaveExchange(ctx context.Context, ex *api.Exchange) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, ex)
	m.tenants = append(m.tenants, storage.ScopeFrom(ctx).Tenant)
	return nil
}

func (m *memoryStore) GetExchange(ctx context.Context, id string) (*api.Exchange, error) {
	return nil, nil
}

func (m *memoryStore) DeleteExchange(ctx context.Context, id string) error { return nil }

func (m *memoryStore) ListExchanges(ctx context.Context, sessionID string, opts transport.ListOptions) (*api.ExchangeList, error) {
	return &api.ExchangeList{Object: "list"}, nil
}

func (m *memoryStore) HealthCheck(ctx context.Context) error { return m.healthErr }

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) saved() []*api.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*api.Exchange(nil), m.exchanges...)
}

// gate is a fixed platform gate.
type gate bool

func (g gate) IsSupported() bool   { return bool(g) }
func (g gate) Version() string     { return "test/1.0" }
func (g gate) Requirement() string { return "test/2.0" }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
