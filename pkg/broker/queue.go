package broker

import (
	"context"
	"sync"

	"github.com/rhuss/lmbroker/pkg/api"
)

// eventQueue is the FIFO between stream tasks and the dispatcher.
//
// Intermediate events wait for room once size events are pending. Final
// events are always accepted, so a stalled sink cannot keep a stream from
// terminating. There is at most one final event per running stream, which
// bounds the overflow.
type eventQueue struct {
	mu     sync.Mutex
	events []api.StreamEvent
	size   int
	closed bool

	ready chan struct{}
	space chan struct{}
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{
		size:  size,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

// push appends an intermediate event, waiting for room until ctx is done.
func (q *eventQueue) push(ctx context.Context, ev api.StreamEvent) error {
	for {
		q.mu.Lock()
		if len(q.events) < q.size {
			q.events = append(q.events, ev)
			room := len(q.events) < q.size
			q.mu.Unlock()
			signal(q.ready)
			if room {
				signal(q.space)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pushFinal appends a final event without waiting.
func (q *eventQueue) pushFinal(ev api.StreamEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	signal(q.ready)
}

// pop returns the oldest event, blocking until one is available. It
// reports false once the queue is closed and drained.
func (q *eventQueue) pop() (api.StreamEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events[0] = api.StreamEvent{}
			q.events = q.events[1:]
			q.mu.Unlock()
			signal(q.space)
			return ev, true
		}
		if q.closed {
			q.mu.Unlock()
			return api.StreamEvent{}, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.ready)
}

func (q *eventQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
