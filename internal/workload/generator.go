package workload

import (
	"container/heap"
	"context"
	"time"
)

// Message is one emission of a Generator.
type Message struct {
	Item    Item
	Payload []byte
}

// Generator emits exactly count messages cycling through its items. Items with
// no delay rotate round-robin. If any item has a delay, every item runs on its
// own timer so fast and slow kinds interleave independently.
//
// A Generator is single-use and not safe for concurrent use.
type Generator struct {
	remaining int
	rng       *Source

	queue   []Item
	delayed *timerQueue
	timer   *time.Timer
}

func New(count int, items []Item) *Generator {
	g := &Generator{remaining: count, rng: NewSource()}
	if len(items) == 0 {
		g.remaining = 0
		return g
	}

	throttled := false
	for _, it := range items {
		if it.Delay > 0 {
			throttled = true
			break
		}
	}

	if !throttled {
		g.queue = append([]Item(nil), items...)
		return g
	}

	now := time.Now()
	g.delayed = &timerQueue{}
	for _, it := range items {
		heap.Push(g.delayed, scheduled{at: now.Add(it.Delay), item: it})
	}
	return g
}

// Remaining is the number of messages left to emit.
func (g *Generator) Remaining() int {
	return g.remaining
}

// Next blocks until the next message is due. ok is false once the generator
// is exhausted.
func (g *Generator) Next(ctx context.Context) (msg Message, ok bool, err error) {
	if g.remaining <= 0 {
		return Message{}, false, nil
	}

	var item Item
	if g.delayed == nil {
		item = g.queue[0]
		g.queue = append(g.queue[1:], item.Next())
	} else {
		next := (*g.delayed)[0]
		if wait := time.Until(next.at); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return Message{}, false, err
			}
		}
		heap.Pop(g.delayed)
		item = next.item
		heap.Push(g.delayed, scheduled{at: time.Now().Add(item.Delay), item: item.Next()})
	}

	g.remaining--
	return Message{Item: item, Payload: g.rng.Payload(item)}, true, nil
}

func (g *Generator) sleep(ctx context.Context, d time.Duration) error {
	if g.timer == nil {
		g.timer = time.NewTimer(d)
	} else {
		g.timer.Reset(d)
	}
	select {
	case <-g.timer.C:
		return nil
	case <-ctx.Done():
		g.timer.Stop()
		return ctx.Err()
	}
}

type scheduled struct {
	at   time.Time
	item Item
}

type timerQueue []scheduled

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q timerQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) {
	*q = append(*q, x.(scheduled))
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
