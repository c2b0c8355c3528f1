package iod

import (
	"context"
	"sync"
)

// Event is one control directive for the daemon.
type Event struct {
	Kind  EventKind
	Share *Share

	ctx  context.Context
	sync bool
	err  error
	done chan struct{}
}

// eventQueue is an ordered, mutex-protected queue of events.
type eventQueue struct {
	mu     sync.Mutex
	items  []*Event
	closed bool
}

// push appends ev; it reports false once the queue is closed.
func (q *eventQueue) push(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, ev)
	return true
}

// pop removes and returns the oldest event, or nil.
func (q *eventQueue) pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev
}

// close refuses new events and returns those still queued.
func (q *eventQueue) close() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// finish records the result and releases a synchronous caller.
func (ev *Event) finish(err error) {
	ev.err = err
	close(ev.done)
}
