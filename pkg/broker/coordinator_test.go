package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/provider"
)

func fixed(texts ...string) Generator {
	return func(ctx context.Context) (<-chan provider.Snapshot, error) {
		return snapshots(texts...), nil
	}
}

func blocking(ctx context.Context) (<-chan provider.Snapshot, error) {
	return blockingStream(ctx, "")
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingSink) {
	t.Helper()
	c := NewCoordinator(16)
	sink := newRecordingSink()
	c.Attach(sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Close(ctx)
	})
	return c, sink
}

func TestDelta(t *testing.T) {
	tests := []struct {
		previous, current, want string
	}{
		{"", "Hel", "Hel"},
		{"Hel", "Hello", "lo"},
		{"Hello", "Hello", ""},
		{"Hello", "Help", "Help"},
		{"abc", "", ""},
	}
	for _, tt := range tests {
		if got := Delta(tt.previous, tt.current); got != tt.want {
			t.Errorf("Delta(%q, %q) = %q, want %q", tt.previous, tt.current, got, tt.want)
		}
	}
}

func TestCoordinator_Deltas(t *testing.T) {
	c, sink := newTestCoordinator(t)

	var completed string
	err := c.Launch(context.Background(), "st1", fixed("Hel", "Hello", "Hello world"), func(content string) {
		completed = content
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	final := sink.awaitFinal(t)
	events := sink.eventsFor("st1")
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	wantDeltas := []string{"Hel", "lo", " world"}
	var rebuilt string
	for i, want := range wantDeltas {
		ev := events[i]
		if ev.IsFinal {
			t.Fatalf("event %d should not be final", i)
		}
		if got := deref(ev.Delta); got != want {
			t.Errorf("event %d delta = %q, want %q", i, got, want)
		}
		rebuilt += deref(ev.Delta)
		if got := deref(ev.Cumulative); got != rebuilt {
			t.Errorf("event %d cumulative = %q, want %q", i, got, rebuilt)
		}
	}

	if final.Failed() {
		t.Errorf("completed stream should carry no error, got %q", deref(final.ErrorCode))
	}
	if deref(final.Cumulative) != "Hello world" {
		t.Errorf("final cumulative = %q", deref(final.Cumulative))
	}
	if deref(final.RawContent) != `"Hello world"` {
		t.Errorf("final raw content = %q", deref(final.RawContent))
	}
	if final.Delta != nil {
		t.Errorf("final event should carry no delta, got %q", *final.Delta)
	}
	if completed != "Hello world" {
		t.Errorf("onComplete content = %q", completed)
	}
}

func TestCoordinator_NonPrefixSnapshot(t *testing.T) {
	c, sink := newTestCoordinator(t)

	if err := c.Launch(context.Background(), "st1", fixed("abc", "xyz"), nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	sink.awaitFinal(t)

	events := sink.eventsFor("st1")
	if got := deref(events[1].Delta); got != "xyz" {
		t.Errorf("delta of a non-extending snapshot = %q, want the whole snapshot", got)
	}
	if got := deref(events[1].Cumulative); got != "xyz" {
		t.Errorf("cumulative = %q, want xyz", got)
	}
}

func TestCoordinator_EmptyDeltaOmitted(t *testing.T) {
	c, sink := newTestCoordinator(t)

	if err := c.Launch(context.Background(), "st1", fixed("a", "a"), nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	sink.awaitFinal(t)

	events := sink.eventsFor("st1")
	if events[1].Delta != nil {
		t.Errorf("empty delta should be omitted, got %q", *events[1].Delta)
	}
}

func TestCoordinator_Failure(t *testing.T) {
	tests := []struct {
		name        string
		generate    Generator
		wantCode    string
		wantMessage string
	}{
		{
			name: "engine error mid-stream",
			generate: func(ctx context.Context) (<-chan provider.Snapshot, error) {
				ch := make(chan provider.Snapshot, 2)
				ch <- provider.Snapshot{Content: "partial"}
				ch <- provider.Snapshot{Err: provider.NewGenerationError(provider.ErrGuardrailViolation, "flagged")}
				close(ch)
				return ch, nil
			},
			wantCode:    "request_failed",
			wantMessage: "Request failed: Guardrail violation",
		},
		{
			name: "engine error on start",
			generate: func(ctx context.Context) (<-chan provider.Snapshot, error) {
				return nil, provider.NewGenerationError(provider.ErrConcurrentRequests, "")
			},
			wantCode:    "request_failed",
			wantMessage: "Request failed: Too many simultaneous requests",
		},
		{
			name: "unclassified error",
			generate: func(ctx context.Context) (<-chan provider.Snapshot, error) {
				return nil, errors.New("boom")
			},
			wantCode:    "unknown",
			wantMessage: "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sink := newTestCoordinator(t)

			completed := false
			if err := c.Launch(context.Background(), "st1", tt.generate, func(string) { completed = true }); err != nil {
				t.Fatalf("Launch should not fail on engine errors: %v", err)
			}

			final := sink.awaitFinal(t)
			if deref(final.ErrorCode) != tt.wantCode {
				t.Errorf("errorCode = %q, want %q", deref(final.ErrorCode), tt.wantCode)
			}
			if deref(final.ErrorMessage) != tt.wantMessage {
				t.Errorf("errorMessage = %q, want %q", deref(final.ErrorMessage), tt.wantMessage)
			}
			if completed {
				t.Error("onComplete should only run for completed streams")
			}
		})
	}
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	c, sink := newTestCoordinator(t)
	ctx := context.Background()

	if err := c.Launch(ctx, "st1", blocking, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := c.Stop(ctx, "st1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	final := sink.awaitFinal(t)
	if deref(final.ErrorCode) != api.StreamErrorCancelled || deref(final.ErrorMessage) != api.StreamErrorCancelled {
		t.Errorf("final = %q/%q, want cancelled/cancelled", deref(final.ErrorCode), deref(final.ErrorMessage))
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d after stop, want 0", c.Active())
	}

	if err := c.Stop(ctx, "st1"); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := c.Stop(ctx, "unknown"); err != nil {
		t.Errorf("Stop of unknown stream: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(sink.eventsFor("st1")); n != 1 {
		t.Errorf("got %d events, want exactly one final event", n)
	}
}

func TestCoordinator_CancelledKeepsPartialContent(t *testing.T) {
	c, sink := newTestCoordinator(t)

	generate := func(ctx context.Context) (<-chan provider.Snapshot, error) {
		ch := make(chan provider.Snapshot)
		go func() {
			defer close(ch)
			select {
			case ch <- provider.Snapshot{Content: "partial"}:
			case <-ctx.Done():
				return
			}
			<-ctx.Done()
		}()
		return ch, nil
	}

	if err := c.Launch(context.Background(), "st1", generate, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitFor(t, func() bool { return len(sink.eventsFor("st1")) == 1 })
	if err := c.Stop(context.Background(), "st1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	final := sink.awaitFinal(t)
	if deref(final.ErrorCode) != api.StreamErrorCancelled {
		t.Errorf("errorCode = %q, want cancelled", deref(final.ErrorCode))
	}
	if deref(final.Cumulative) != "partial" {
		t.Errorf("cumulative = %q, want partial", deref(final.Cumulative))
	}
}

func TestCoordinator_RestartUnderReusedID(t *testing.T) {
	c, sink := newTestCoordinator(t)
	ctx := context.Background()

	if err := c.Launch(ctx, "st1", blocking, nil); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	if err := c.Launch(ctx, "st1", fixed("again"), nil); err != nil {
		t.Fatalf("second Launch: %v", err)
	}

	first := sink.awaitFinal(t)
	second := sink.awaitFinal(t)

	if deref(first.ErrorCode) != api.StreamErrorCancelled {
		t.Errorf("first stream should end cancelled, got %q", deref(first.ErrorCode))
	}
	if second.Failed() || deref(second.Cumulative) != "again" {
		t.Errorf("second stream final = %+v", second)
	}

	events := sink.eventsFor("st1")
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if !events[0].IsFinal {
		t.Error("the old stream's final event must precede the new stream's events")
	}
}

func TestCoordinator_LaunchWithoutSink(t *testing.T) {
	c := NewCoordinator(4)
	defer c.Close(context.Background())

	err := c.Launch(context.Background(), "st1", fixed("x"), nil)
	if !errors.Is(err, ErrListenerNotAttached) {
		t.Fatalf("expected ErrListenerNotAttached, got %v", err)
	}
	if err.Error() != "Request failed: Stream listener not attached" {
		t.Errorf("message = %q", err.Error())
	}
	if c.Active() != 0 {
		t.Error("no stream should be registered")
	}
}

func TestCoordinator_Detach(t *testing.T) {
	c, sink := newTestCoordinator(t)
	ctx := context.Background()

	if err := c.Launch(ctx, "st1", blocking, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := c.Launch(ctx, "st2", blocking, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	c.Detach(newRecordingSink())
	if c.Active() != 2 {
		t.Fatalf("detaching a foreign sink should not cancel streams, Active() = %d", c.Active())
	}

	c.Detach(sink)
	waitFor(t, func() bool { return c.Active() == 0 })

	if n := len(sink.Events()); n != 0 {
		t.Errorf("detached sink received %d events", n)
	}

	err := c.Launch(ctx, "st3", fixed("x"), nil)
	if !errors.Is(err, ErrListenerNotAttached) {
		t.Errorf("Launch after detach = %v, want ErrListenerNotAttached", err)
	}
}

func TestCoordinator_StopTimeout(t *testing.T) {
	c, _ := newTestCoordinator(t)

	release := make(chan struct{})
	stuck := func(ctx context.Context) (<-chan provider.Snapshot, error) {
		<-release
		return nil, ctx.Err()
	}
	if err := c.Launch(context.Background(), "st1", stuck, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Stop(ctx, "st1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop = %v, want deadline exceeded", err)
	}

	close(release)
	if err := c.Stop(context.Background(), "st1"); err != nil {
		t.Errorf("Stop after release: %v", err)
	}
}

func TestCoordinator_LaunchSurvivesRequestCancellation(t *testing.T) {
	c, sink := newTestCoordinator(t)

	reqCtx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	generate := func(ctx context.Context) (<-chan provider.Snapshot, error) {
		close(started)
		<-release
		return snapshots("done"), nil
	}

	if err := c.Launch(reqCtx, "st1", generate, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-started
	cancel()
	close(release)

	final := sink.awaitFinal(t)
	if final.Failed() {
		t.Errorf("ending the request should not cancel the stream, got %q", deref(final.ErrorCode))
	}
}

func TestCoordinator_Close(t *testing.T) {
	c := NewCoordinator(4)
	sink := newRecordingSink()
	c.Attach(sink)

	if err := c.Launch(context.Background(), "st1", blocking, nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	final := sink.awaitFinal(t)
	if deref(final.ErrorCode) != api.StreamErrorCancelled {
		t.Errorf("errorCode = %q, want cancelled", deref(final.ErrorCode))
	}

	if err := c.Launch(context.Background(), "st2", fixed("x"), nil); !api.IsType(err, api.ErrorTypeRequestFailed) {
		t.Errorf("Launch after Close = %v, want request_failed", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// stalledSink blocks every Send until released.
type stalledSink struct {
	release chan struct{}
	inner   *recordingSink
}

func (s *stalledSink) Send(ev api.StreamEvent) {
	<-s.release
	s.inner.Send(ev)
}

func counting(n int) Generator {
	return func(ctx context.Context) (<-chan provider.Snapshot, error) {
		ch := make(chan provider.Snapshot)
		go func() {
			defer close(ch)
			text := ""
			for i := 0; i < n; i++ {
				text += "x"
				select {
				case ch <- provider.Snapshot{Content: text}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

func TestCoordinator_StopWithStalledSink(t *testing.T) {
	c := NewCoordinator(4)
	sink := &stalledSink{release: make(chan struct{}), inner: newRecordingSink()}
	c.Attach(sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Close(ctx)
	})

	if err := c.Launch(context.Background(), "st1", counting(1000), nil); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitFor(t, func() bool { return c.queue.pending() >= 4 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx, "st1"); err != nil {
		t.Fatalf("Stop with stalled sink: %v", err)
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d after stop, want 0", c.Active())
	}

	close(sink.release)
	final := sink.inner.awaitFinal(t)
	if deref(final.ErrorCode) != api.StreamErrorCancelled {
		t.Errorf("final error code = %q, want %q", deref(final.ErrorCode), api.StreamErrorCancelled)
	}
	events := sink.inner.eventsFor("st1")
	if last := events[len(events)-1]; !last.IsFinal {
		t.Error("last delivered event is not final")
	}
	finals := 0
	for _, ev := range events {
		if ev.IsFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("got %d final events, want 1", finals)
	}
}
