package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of a run's progress.
type Snapshot struct {
	Confirmed        uint64
	ExpectedMessages uint64
	Sessions         int
	ExpectedSessions int
	Reconnects       uint64
	Elapsed          time.Duration
	Done             bool
}

// UpdateChan carries progress snapshots to a monitor. Sends never block; a
// slow reader misses intermediate snapshots.
type UpdateChan chan Snapshot

// Observer is notified from the aggregator goroutine as contributions arrive.
type Observer interface {
	Confirmed(n uint64)
	SessionFinished(s *SessionStats)
}

// Criterion selects what ends an aggregation.
//
// Bench runs use UntilSessions: subscriber counts only arrive with their
// final contribution, so stopping at the confirmed-message target would
// drop them from the report. Sessions that end early still contribute, so
// waiting on sessions cannot stall once publishers finish.
type Criterion int

const (
	UntilSessions Criterion = 1 << iota
	UntilMessages

	UntilEither = UntilSessions | UntilMessages
)

// AggregatorConfig sets the exit criteria. The aggregator stops as soon as
// any criterion named by Until is met. A zero target disables its criterion.
type AggregatorConfig struct {
	// Sessions is the number of final contributions expected.
	Sessions int
	// Messages is the number of confirmed messages expected.
	Messages uint64
	// Until defaults to UntilEither.
	Until Criterion
	// KeepSessions retains every SessionStats in the report.
	KeepSessions bool
	// Interval between progress snapshots.
	Interval time.Duration
	Updates  UpdateChan
	Observer Observer
}

type contribution struct {
	stats    *SessionStats
	withdraw bool
}

// Aggregator merges per-session results into a Report. Final results travel
// over a channel sized to the number of sessions, so a session's single send
// never blocks. Progress increments are coalesced in an atomic counter.
type Aggregator struct {
	cfg AggregatorConfig

	results chan contribution
	kick    chan struct{}
	pending atomic.Uint64
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.Until == 0 {
		cfg.Until = UntilEither
	}
	size := cfg.Sessions
	if size < 1 {
		size = 1
	}
	return &Aggregator{
		cfg:     cfg,
		results: make(chan contribution, size),
		kick:    make(chan struct{}, 1),
	}
}

// Report hands a finished session's stats to the aggregator.
func (a *Aggregator) Report(s *SessionStats) {
	a.results <- contribution{stats: s}
}

// Withdraw tells the aggregator a session will never report.
func (a *Aggregator) Withdraw() {
	a.results <- contribution{withdraw: true}
}

// Progress records n newly confirmed messages. It never blocks.
func (a *Aggregator) Progress(n uint64) {
	a.pending.Add(n)
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Aggregator) finished(r *Report) bool {
	if a.cfg.Until&UntilSessions != 0 && a.cfg.Sessions > 0 && r.Sessions+r.Withdrawn >= a.cfg.Sessions {
		return true
	}
	if a.cfg.Until&UntilMessages != 0 && a.cfg.Messages > 0 && r.Confirmed >= a.cfg.Messages {
		return true
	}
	return false
}

// Run receives contributions until an exit criterion is met or ctx is done,
// then folds in whatever is already queued and returns the report.
func (a *Aggregator) Run(ctx context.Context) *Report {
	start := time.Now()
	r := &Report{
		ExpectedSessions: a.cfg.Sessions,
		ExpectedMessages: a.cfg.Messages,
		Latency:          NewHistogram(),
		Arrival:          NewHistogram(),
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

loop:
	for !a.finished(r) {
		select {
		case c := <-a.results:
			a.apply(r, c)
		case <-a.kick:
			a.fold(r)
		case <-ticker.C:
			a.publish(r, start, false)
		case <-ctx.Done():
			break loop
		}
	}

drain:
	for {
		select {
		case c := <-a.results:
			a.apply(r, c)
		default:
			break drain
		}
	}
	a.fold(r)

	r.Elapsed = time.Since(start)
	a.publish(r, start, true)
	return r
}

func (a *Aggregator) fold(r *Report) {
	n := a.pending.Swap(0)
	if n == 0 {
		return
	}
	r.Confirmed += n
	if a.cfg.Observer != nil {
		a.cfg.Observer.Confirmed(n)
	}
}

func (a *Aggregator) apply(r *Report, c contribution) {
	if c.withdraw {
		r.Withdrawn++
		return
	}
	s := c.stats
	r.Sessions++
	r.AckCount += s.AckCount
	r.Reconnects += s.Reconnects
	r.Unsolicited += s.Unsolicited
	switch s.Role {
	case Subscriber:
		r.Subscribers++
		r.PublishCount += s.PublishCount
		r.Arrival.Merge(s.Latency)
	default:
		r.Publishers++
		r.OutgoingPublish += s.OutgoingPublish
		r.Latency.Merge(s.Latency)
	}
	if a.cfg.KeepSessions {
		r.PerSession = append(r.PerSession, s)
	}
	if a.cfg.Observer != nil {
		a.cfg.Observer.SessionFinished(s)
	}
}

func (a *Aggregator) publish(r *Report, start time.Time, done bool) {
	if a.cfg.Updates == nil {
		return
	}
	s := Snapshot{
		Confirmed:        r.Confirmed + a.pending.Load(),
		ExpectedMessages: a.cfg.Messages,
		Sessions:         r.Sessions,
		ExpectedSessions: a.cfg.Sessions,
		Reconnects:       r.Reconnects,
		Elapsed:          time.Since(start),
		Done:             done,
	}
	select {
	case a.cfg.Updates <- s:
	default:
	}
}
