package mqtt

import (
	"context"
	"sync"
)

type result struct {
	event Event
	err   error
}

// Queue is an unbounded FIFO of poll results. Producers never block, which
// keeps transport callbacks from stalling behind a slow session.
type Queue struct {
	mu     sync.Mutex
	items  []result
	signal chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends an event. It is a no-op once the queue is closed.
func (q *Queue) Push(e Event) {
	q.put(result{event: e})
}

// PushErr appends an error to be returned by a later Pop.
func (q *Queue) PushErr(err error) {
	q.put(result{err: err})
}

func (q *Queue) put(r result) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Close drops pending items. Pop returns ErrClosed afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop waits for the next item.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			// keep other waiters awake
			select {
			case q.signal <- struct{}{}:
			default:
			}
			return Event{}, ErrClosed
		}
		if len(q.items) > 0 {
			r := q.items[0]
			q.items[0] = result{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return r.event, r.err
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
