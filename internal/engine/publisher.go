package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/settle/internal/domain"
)

// EventSink receives lifecycle events after they are committed. Delivery is
// fire-and-forget: a sink error is logged and the event is dropped.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev domain.Event) error

// Publish implements EventSink.
func (f SinkFunc) Publish(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// eventQueue is a thread-safe unbounded FIFO of committed events.
//
// The queue uses a channel for signaling so the drain loop can wait on it
// together with a stop signal.
type eventQueue struct {
	mu     sync.Mutex
	events []domain.Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]domain.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds events to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(evs ...domain.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, evs...)

	// Non-blocking: a buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (domain.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return domain.Event{}, false
	}
	e := q.events[0]
	q.events[0] = domain.Event{} // release Detail map for GC
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes the drain loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// publisher drains the queue into a sink on its own goroutine so a slow sink
// never holds up a commit.
type publisher struct {
	queue  *eventQueue
	sink   EventSink
	logger *slog.Logger
	done   chan struct{}
}

func newPublisher(sink EventSink, logger *slog.Logger) *publisher {
	p := &publisher{
		queue:  newEventQueue(),
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) publish(evs []domain.Event) {
	if len(evs) == 0 {
		return
	}
	if !p.queue.Enqueue(evs...) {
		p.logger.Warn("event dropped after close", "count", len(evs))
	}
}

func (p *publisher) run() {
	defer close(p.done)
	ctx := context.Background()
	for {
		for {
			ev, ok := p.queue.TryDequeue()
			if !ok {
				break
			}
			if err := p.sink.Publish(ctx, ev); err != nil {
				p.logger.Warn("event sink failed",
					"seq", ev.Seq,
					"kind", ev.Kind,
					"entity", ev.EntityID,
					"error", err,
				)
			}
		}
		if _, open := <-p.queue.Wait(); !open {
			// Closed: drain whatever arrived before Close and stop.
			for {
				ev, ok := p.queue.TryDequeue()
				if !ok {
					return
				}
				if err := p.sink.Publish(ctx, ev); err != nil {
					p.logger.Warn("event sink failed", "seq", ev.Seq, "error", err)
				}
			}
		}
	}
}

// close flushes queued events and waits for the drain loop to exit.
func (p *publisher) close() {
	p.queue.Close()
	<-p.done
}
