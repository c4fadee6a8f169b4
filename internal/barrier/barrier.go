// Package barrier holds a cohort of sessions at a phase boundary until every
// member has arrived.
package barrier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Barrier releases once n members have arrived. It is single-use.
type Barrier struct {
	n       int64
	arrived atomic.Int64
	done    chan struct{}
	once    sync.Once
}

func New(n int) *Barrier {
	b := &Barrier{n: int64(n), done: make(chan struct{})}
	if n <= 0 {
		b.release()
	}
	return b
}

func (b *Barrier) release() {
	b.once.Do(func() { close(b.done) })
}

// Arrive registers one member. It reports whether this arrival released the barrier.
func (b *Barrier) Arrive() bool {
	if b.arrived.Add(1) == b.n {
		b.release()
		return true
	}
	return false
}

// Done is closed on release.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}

// Released reports whether the barrier has released.
func (b *Barrier) Released() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Arrived returns the number of members that have arrived so far.
func (b *Barrier) Arrived() int {
	return int(b.arrived.Load())
}

// Wait blocks until release or until ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArriveAndWait arrives and blocks until release.
func (b *Barrier) ArriveAndWait(ctx context.Context) error {
	b.Arrive()
	return b.Wait(ctx)
}

// Await arrives and keeps calling poll until the barrier releases, so a
// connection stays serviced (pings, acks) while the rest of the cohort catches
// up. poll receives a context that is cancelled on release. An error from poll
// stops polling but not waiting; it is returned once the barrier releases.
func (b *Barrier) Await(ctx context.Context, poll func(context.Context) error) error {
	b.Arrive()
	if b.Released() {
		return nil
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	polled := make(chan error, 1)
	go func() {
		for pctx.Err() == nil {
			if err := poll(pctx); err != nil {
				polled <- err
				return
			}
		}
		polled <- nil
	}()

	select {
	case <-b.done:
	case <-ctx.Done():
	}
	cancel()
	err := <-polled

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
