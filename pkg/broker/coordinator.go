package broker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/observability"
	"github.com/rhuss/lmbroker/pkg/provider"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// ErrListenerNotAttached is returned when a stream is started while no
// event sink is attached.
var ErrListenerNotAttached = api.NewRequestFailedError("Stream listener not attached")

// Generator starts the engine generation of one stream.
type Generator func(ctx context.Context) (<-chan provider.Snapshot, error)

// streamHandle is the coordinator's record of one running stream.
type streamHandle struct {
	id     string
	cancel context.CancelFunc

	// done is closed after the final event was queued and the handle
	// was removed from the coordinator.
	done chan struct{}

	state api.StreamState
}

func (h *streamHandle) transition(to api.StreamState) {
	if err := api.ValidateStreamTransition(h.state, to); err != nil {
		slog.Error("stream state violation", "stream_id", h.id, "error", err.Message)
		return
	}
	debug.Log(debug.Streaming, "stream state", "stream_id", h.id, "from", h.state, "to", to)
	h.state = to
}

// Coordinator runs streaming generations and delivers their events to the
// single attached sink. At most one stream runs per stream id.
//
// All mutations of the handle map and the sink happen under mu. Events of
// every stream are funneled through one queue drained by a dispatcher
// goroutine, so a sink sees each stream's events in emission order.
type Coordinator struct {
	mu      sync.Mutex
	handles map[string]*streamHandle
	sink    transport.EventSink
	closed  bool

	queue      *eventQueue
	dispatched chan struct{}
	tasks      sync.WaitGroup
}

// NewCoordinator creates a coordinator and starts its dispatcher.
// queueSize bounds the number of undelivered intermediate events before
// streams wait for the sink.
func NewCoordinator(queueSize int) *Coordinator {
	if queueSize <= 0 {
		queueSize = 256
	}
	c := &Coordinator{
		handles:    make(map[string]*streamHandle),
		queue:      newEventQueue(queueSize),
		dispatched: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Attach installs sink as the event sink, replacing any previous sink.
func (c *Coordinator) Attach(sink transport.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Detach removes sink if it is the attached sink and cancels every running
// stream without waiting. Cancelled streams still produce their final
// event; with no sink attached it is dropped.
func (c *Coordinator) Detach(sink transport.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != sink {
		return
	}
	c.sink = nil
	for _, h := range c.handles {
		h.cancel()
	}
	debug.Log(debug.Streaming, "sink detached", "cancelled", len(c.handles))
}

// Stop cancels the stream and waits until its final event is queued.
// Stopping an unknown stream succeeds immediately.
func (c *Coordinator) Stop(ctx context.Context, streamID string) error {
	c.mu.Lock()
	h, ok := c.handles[streamID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	h.cancel()
	return wait(ctx, h)
}

// Launch registers a new stream and starts its generation. An existing
// stream with the same id is cancelled and awaited first. Launch fails
// when no sink is attached.
//
// base supplies the values (tenant, request id) of the stream context;
// its cancellation does not end the stream.
func (c *Coordinator) Launch(base context.Context, streamID string, generate Generator, onComplete func(content string)) error {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return api.NewRequestFailedError("broker is shutting down")
		}
		old, ok := c.handles[streamID]
		if !ok {
			break
		}
		c.mu.Unlock()
		old.cancel()
		if err := wait(base, old); err != nil {
			return err
		}
		c.mu.Lock()
	}
	if c.sink == nil {
		c.mu.Unlock()
		return ErrListenerNotAttached
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(base))
	h := &streamHandle{id: streamID, cancel: cancel, done: make(chan struct{}), state: api.StreamIdle}
	h.transition(api.StreamRunning)
	c.handles[streamID] = h
	c.tasks.Add(1)
	c.mu.Unlock()

	observability.StreamsActive.Inc()
	go c.run(ctx, h, generate, onComplete)
	return nil
}

// Active returns the number of running streams.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close cancels every stream and waits for them, then stops the
// dispatcher once the queued events were delivered. It gives up when ctx
// expires.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, h := range c.handles {
		h.cancel()
	}
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.queue.close()
	select {
	case <-c.dispatched:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one stream to exactly one final event.
func (c *Coordinator) run(ctx context.Context, h *streamHandle, generate Generator, onComplete func(string)) {
	defer c.tasks.Done()
	defer observability.StreamsActive.Dec()

	var previous, raw string

	err := func() error {
		snapshots, err := generate(ctx)
		if err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap, ok := <-snapshots:
				if !ok {
					return nil
				}
				if snap.Err != nil {
					return snap.Err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				delta := Delta(previous, snap.Content)
				previous, raw = snap.Content, snap.RawContent
				ev := api.StreamEvent{
					StreamID:   h.id,
					Delta:      api.Optional(delta),
					Cumulative: api.Optional(previous),
					RawContent: api.Optional(raw),
				}
				if err := c.queue.push(ctx, ev); err != nil {
					return err
				}
			}
		}
	}()

	final := api.StreamEvent{
		StreamID:   h.id,
		Cumulative: api.Optional(previous),
		RawContent: api.Optional(raw),
		IsFinal:    true,
	}

	switch {
	case ctx.Err() != nil:
		h.transition(api.StreamCancelled)
		final.ErrorCode = api.Optional(api.StreamErrorCancelled)
		final.ErrorMessage = api.Optional(api.StreamErrorCancelled)
	case err != nil:
		h.transition(api.StreamFailed)
		sanitized := SanitizeError(err)
		final.ErrorCode = api.Optional(errorCode(sanitized))
		final.ErrorMessage = api.Optional(sanitized.Error())
		slog.Warn("stream failed", "stream_id", h.id, "error", sanitized.Error())
	default:
		h.transition(api.StreamCompleted)
		if onComplete != nil {
			onComplete(previous)
		}
	}

	c.queue.pushFinal(final)
	observability.StreamOutcomesTotal.WithLabelValues(string(h.state)).Inc()

	c.mu.Lock()
	if c.handles[h.id] == h {
		delete(c.handles, h.id)
	}
	c.mu.Unlock()

	h.cancel()
	close(h.done)
}

// dispatch delivers queued events to the sink attached at delivery time.
func (c *Coordinator) dispatch() {
	defer close(c.dispatched)
	for {
		ev, ok := c.queue.pop()
		if !ok {
			return
		}
		c.mu.Lock()
		sink := c.sink
		c.mu.Unlock()
		if sink == nil {
			observability.EventDropped(ev.IsFinal)
			debug.Log(debug.Streaming, "event dropped, no sink", "stream_id", ev.StreamID, "final", ev.IsFinal)
			continue
		}
		sink.Send(ev)
	}
}

// Delta returns the text added by current over previous. When current does
// not extend previous the whole current text is the delta.
func Delta(previous, current string) string {
	if strings.HasPrefix(current, previous) {
		return current[len(previous):]
	}
	return current
}

func wait(ctx context.Context, h *streamHandle) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return errors.Join(api.NewRequestFailedError("timed out waiting for stream "+h.id), ctx.Err())
	}
}
