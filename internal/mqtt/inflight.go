package mqtt

import "context"

// Inflight hands out packet identifiers in 1..max and blocks when all of them
// are outstanding.
type Inflight struct {
	free chan uint16
}

func NewInflight(max int) *Inflight {
	if max < 1 {
		max = 1
	}
	if max > 65535 {
		max = 65535
	}
	in := &Inflight{free: make(chan uint16, max)}
	for id := 1; id <= max; id++ {
		in.free <- uint16(id)
	}
	return in
}

// Acquire takes a free identifier.
func (in *Inflight) Acquire(ctx context.Context) (uint16, error) {
	select {
	case id := <-in.free:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Release returns an identifier once its acknowledgement has been delivered.
func (in *Inflight) Release(id uint16) {
	select {
	case in.free <- id:
	default:
	}
}

// Cap is the size of the identifier space.
func (in *Inflight) Cap() int {
	return cap(in.free)
}

// Outstanding is the number of identifiers currently held.
func (in *Inflight) Outstanding() int {
	return cap(in.free) - len(in.free)
}
