package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/observability"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// eventName is the SSE event type of every stream event.
const eventName = "stream"

// sseSink is the transport.EventSink of one event channel connection.
// Send hands events to the connection goroutine and returns once the
// connection is gone, so a disconnected client never blocks the broker.
type sseSink struct {
	events chan api.StreamEvent

	// done is closed when the connection stops reading events.
	done chan struct{}

	// replaced is closed when a newer subscriber takes over.
	replaced  chan struct{}
	closeOnce sync.Once
}

var _ transport.EventSink = (*sseSink)(nil)

func newSSESink(buffer int) *sseSink {
	return &sseSink{
		events:   make(chan api.StreamEvent, buffer),
		done:     make(chan struct{}),
		replaced: make(chan struct{}),
	}
}

// Send implements transport.EventSink.
func (s *sseSink) Send(ev api.StreamEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
		observability.EventDropped(ev.IsFinal)
		debug.Log(debug.Transport, "event dropped, subscriber gone", "stream_id", ev.StreamID)
	}
}

func (s *sseSink) replace() {
	s.closeOnce.Do(func() { close(s.replaced) })
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// start sends the response headers so that clients see the subscription
// before the first event.
func (s *sseWriter) start() error {
	s.w.WriteHeader(http.StatusOK)
	return s.rc.Flush()
}

// writeEvent sends one event formatted as:
//
//	event: stream\n
//	data: {json}\n
//	\n
func (s *sseWriter) writeEvent(ev api.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventName, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// writeKeepAlive sends an SSE comment line.
func (s *sseWriter) writeKeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// subscriptions tracks the single active event channel subscriber.
type subscriptions struct {
	mu      sync.Mutex
	current *sseSink
}

// take makes sink the active subscriber and tells the previous one to go.
// attach runs first, so the previous subscriber's detach no longer matches
// the attached sink.
func (s *subscriptions) take(sink *sseSink, attach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attach()
	if s.current != nil {
		s.current.replace()
	}
	s.current = sink
}

// release forgets sink if it is still the active subscriber.
func (s *subscriptions) release(sink *sseSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == sink {
		s.current = nil
	}
}

// closeAll ends the active subscription, if any.
func (s *subscriptions) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.replace()
	}
}

// handleEvents handles GET /v1/streams/events. The connection is the event
// sink until the client disconnects or a newer subscriber replaces it.
func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	sink := newSSESink(a.config.EventBuffer)
	out := newSSEWriter(w)
	if err := out.start(); err != nil {
		transport.WriteAPIError(w, api.NewServerError("streaming not supported"))
		return
	}

	a.subs.take(sink, func() { a.broker.AttachSink(sink) })
	debug.Log(debug.Transport, "event subscriber attached", "request_id", transport.RequestIDFromContext(r.Context()))

	defer func() {
		close(sink.done)
		a.broker.DetachSink(sink)
		a.subs.release(sink)
		debug.Log(debug.Transport, "event subscriber detached", "request_id", transport.RequestIDFromContext(r.Context()))
	}()

	var keepAlive <-chan time.Time
	if a.config.KeepAlive > 0 {
		ticker := time.NewTicker(a.config.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sink.replaced:
			return
		case <-keepAlive:
			if err := out.writeKeepAlive(); err != nil {
				return
			}
		case ev := <-sink.events:
			if err := out.writeEvent(ev); err != nil {
				observability.EventDropped(ev.IsFinal)
				debug.Log(debug.Transport, "event write failed", "stream_id", ev.StreamID, "error", err)
				return
			}
			observability.EventDelivered(ev.IsFinal)
		}
	}
}
