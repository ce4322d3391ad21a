package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
)

// subscribe opens the event channel and returns a reader over its body.
func subscribe(t *testing.T, ctx context.Context, srv *httptest.Server) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/streams/events", nil)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readEvent reads the next SSE event, skipping keep-alive comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, api.StreamEvent) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			var ev api.StreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("failed to parse event JSON %q: %v", data, err)
			}
			return name, ev
		}
	}
}

func TestEventChannelDeliversEvents(t *testing.T) {
	b := &fakeBroker{}
	srv := newTestServer(t, b, nil)

	resp, reader := subscribe(t, context.Background(), srv)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	waitFor(t, func() bool { return b.currentSink() != nil })
	sink := b.currentSink()

	delta := "Hel"
	go func() {
		sink.Send(api.StreamEvent{StreamID: "st1", Delta: &delta, Cumulative: &delta})
		sink.Send(api.StreamEvent{StreamID: "st1", Cumulative: &delta, IsFinal: true})
	}()

	name, ev := readEvent(t, reader)
	if name != "stream" {
		t.Errorf("event name = %q, want stream", name)
	}
	if ev.StreamID != "st1" || ev.Delta == nil || *ev.Delta != "Hel" || ev.IsFinal {
		t.Errorf("first event = %+v", ev)
	}

	_, ev = readEvent(t, reader)
	if !ev.IsFinal || ev.Delta != nil {
		t.Errorf("final event = %+v", ev)
	}
}

func TestEventChannelDisconnectDetaches(t *testing.T) {
	b := &fakeBroker{}
	srv := newTestServer(t, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	subscribe(t, ctx, srv)
	waitFor(t, func() bool { return b.currentSink() != nil })
	sink := b.currentSink()

	cancel()
	waitFor(t, func() bool { return b.currentSink() == nil })

	done := make(chan struct{})
	go func() {
		sink.Send(api.StreamEvent{StreamID: "st1", IsFinal: true})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked on a disconnected subscriber")
	}
}

func TestEventChannelSecondSubscriberReplacesFirst(t *testing.T) {
	b := &fakeBroker{}
	srv := newTestServer(t, b, nil)

	_, first := subscribe(t, context.Background(), srv)
	waitFor(t, func() bool { attached, _ := b.counts(); return attached == 1 })
	firstSink := b.currentSink()

	_, second := subscribe(t, context.Background(), srv)
	waitFor(t, func() bool { attached, _ := b.counts(); return attached == 2 })

	// The first connection ends.
	readDone := make(chan error, 1)
	go func() {
		_, err := first.ReadString('\n')
		for err == nil {
			_, err = first.ReadString('\n')
		}
		readDone <- err
	}()
	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first subscriber was not disconnected")
	}

	secondSink := b.currentSink()
	if secondSink == nil || secondSink == firstSink {
		t.Fatal("the second subscriber should be the attached sink")
	}

	go secondSink.Send(api.StreamEvent{StreamID: "st2", IsFinal: true})
	if _, ev := readEvent(t, second); ev.StreamID != "st2" {
		t.Errorf("second subscriber got %+v", ev)
	}
}

func TestEventChannelKeepAlive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepAlive = 10 * time.Millisecond
	srv := httptest.NewServer(NewAdapter(&fakeBroker{}, nil, nil, cfg).Handler())
	defer srv.Close()

	_, reader := subscribe(t, context.Background(), srv)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if line != ": keep-alive\n" {
		t.Errorf("line = %q, want keep-alive comment", line)
	}
}

func TestSSESinkSendAfterDone(t *testing.T) {
	sink := newSSESink(0)
	close(sink.done)

	done := make(chan struct{})
	go func() {
		sink.Send(api.StreamEvent{StreamID: "st1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send should return once the subscriber is done")
	}
}

func TestSSESinkReplaceIsIdempotent(t *testing.T) {
	sink := newSSESink(1)
	sink.replace()
	sink.replace()

	select {
	case <-sink.replaced:
	default:
		t.Error("replaced should be closed")
	}
}

func TestSubscriptionsAttachBeforeReplacing(t *testing.T) {
	b := &fakeBroker{}
	var subs subscriptions

	first := newSSESink(1)
	subs.take(first, func() { b.AttachSink(first) })

	second := newSSESink(1)
	subs.take(second, func() {
		select {
		case <-first.replaced:
			t.Error("previous subscriber was told to go before the new sink was attached")
		default:
		}
		b.AttachSink(second)
	})

	select {
	case <-first.replaced:
	default:
		t.Fatal("previous subscriber should be replaced")
	}

	// The replaced handler's deferred detach must not remove the new sink.
	b.DetachSink(first)
	if b.currentSink() != second {
		t.Error("detaching the replaced subscriber removed the new sink")
	}
}
