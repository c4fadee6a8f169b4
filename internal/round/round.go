// Package round runs the escalating round-trip benchmark: the same ping-pong
// workload at growing connection counts, each round ended by a shared
// deadline or message budget.
package round

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mqttwrk/internal/barrier"
	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/storage"
)

// Steps is the connection count ladder used when no fixed count is given.
var Steps = []int{1, 2, 5, 10, 15, 20, 30, 40, 50, 75, 100, 150, 200}

type Config struct {
	Host string
	Port int
	TLS  *tls.Config

	// Connections runs a single round of this size instead of the ladder.
	Connections int
	// InFlight is the number of messages each connection keeps in flight.
	InFlight    int
	PayloadSize int
	Duration    time.Duration
	// Count is a per-connection budget of sent messages; 0 means none.
	Count uint64

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// CoolDown separates rounds.
	CoolDown time.Duration
	// Grace is added to Duration to bound every connection of a round.
	Grace time.Duration

	RunID string
}

func (c *Config) defaults() {
	if c.InFlight <= 0 {
		c.InFlight = 1
	}
	if c.PayloadSize < stampSize {
		c.PayloadSize = stampSize
	}
	if c.Duration <= 0 {
		c.Duration = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 2 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 10 * time.Second
	}
}

// Steps returns the connection counts this config runs.
func (c *Config) Steps() []int {
	if c.Connections > 0 {
		return []int{c.Connections}
	}
	return Steps
}

// Result is one finished round.
type Result struct {
	Round       int
	Connections int
	Failed      int

	Sent     uint64
	Received uint64
	// Throughput is the sum of every connection's rate in messages per second.
	Throughput    float64
	PerConnection float64
	Elapsed       time.Duration

	// Latency is the merged round-trip latency of the round.
	Latency *stats.Histogram
}

// Recorder keeps finished rounds.
type Recorder interface {
	Save(storage.Record) (uint64, error)
}

type Harness struct {
	cfg    Config
	dialer mqtt.Dialer
	log    *zap.Logger

	Recorder Recorder
	Updates  stats.UpdateChan
	Observer stats.Observer
	// OnRound is called after every finished round.
	OnRound func(Result)
}

func NewHarness(cfg Config, dialer mqtt.Dialer, log *zap.Logger) *Harness {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Harness{cfg: cfg, dialer: dialer, log: log}
}

// Run walks the ladder. A failed round ends the walk and its error is
// returned with the rounds finished so far.
func (h *Harness) Run(ctx context.Context) ([]Result, error) {
	var results []Result
	for i, n := range h.cfg.Steps() {
		if i > 0 {
			select {
			case <-time.After(h.cfg.CoolDown):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}

		res, err := h.RunRound(ctx, i+1, n)
		if err != nil {
			return results, fmt.Errorf("round %d (%d connections): %w", i+1, n, err)
		}
		results = append(results, res)
		h.record(res)
		if h.OnRound != nil {
			h.OnRound(res)
		}

		h.log.Info("round finished",
			zap.Int("round", res.Round),
			zap.Int("connections", res.Connections),
			zap.Uint64("received", res.Received),
			zap.Float64("throughput", res.Throughput),
			zap.Float64("per_connection", res.PerConnection),
			zap.Duration("elapsed", res.Elapsed))
	}
	return results, nil
}

func (h *Harness) record(res Result) {
	if h.Recorder == nil {
		return
	}
	_, err := h.Recorder.Save(storage.Record{
		Timestamp:     time.Now(),
		RunID:         h.cfg.RunID,
		Connections:   res.Connections,
		Sent:          res.Sent,
		Received:      res.Received,
		Throughput:    res.Throughput,
		PerConnection: res.PerConnection,
		Elapsed:       res.Elapsed,
		Failed:        res.Failed,
	})
	if err != nil {
		h.log.Warn("could not record round", zap.Error(err))
	}
}

// RunRound runs n ping-pong connections until the round's duration elapses or
// a connection exhausts the message budget. A connection failure does not stop
// its siblings; the first one is returned once the round is over.
func (h *Harness) RunRound(ctx context.Context, round, n int) (Result, error) {
	res := Result{Round: round, Connections: n}

	// every connection plus the timer below
	b := barrier.New(n + 1)
	rctx, stop := context.WithCancel(ctx)
	defer stop()

	var once sync.Once
	budget := make(chan struct{})
	exhausted := func() { once.Do(func() { close(budget) }) }

	agg := stats.NewAggregator(stats.AggregatorConfig{
		Sessions: n,
		Messages: h.cfg.Count * uint64(n),
		Until:    stats.UntilSessions,
		Updates:  h.Updates,
		Observer: h.Observer,
	})
	reports := make(chan *stats.Report, 1)
	go func() { reports <- agg.Run(ctx) }()

	outcomes := make([]outcome, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout+h.cfg.Duration+h.cfg.Grace)
			defer cancel()

			pp := &pingPong{
				cfg:       &h.cfg,
				dialer:    h.dialer,
				log:       h.log,
				barrier:   b,
				stop:      rctx,
				exhausted: exhausted,
				progress:  agg.Progress,
			}
			out, err := pp.run(cctx)
			outcomes[i] = out
			if err != nil {
				agg.Withdraw()
				h.log.Error("connection failed", zap.String("id", pp.id), zap.Error(err))
				return err
			}
			agg.Report(out.stats)
			return nil
		})
	}

	var started time.Time
	timer := make(chan struct{})
	go func() {
		defer close(timer)
		if err := b.ArriveAndWait(rctx); err != nil {
			return
		}
		started = time.Now()
		t := time.NewTimer(h.cfg.Duration)
		defer t.Stop()
		select {
		case <-t.C:
		case <-budget:
			h.log.Debug("message budget reached", zap.Int("round", round))
		case <-rctx.Done():
		}
		stop()
	}()

	err := g.Wait()
	stop()
	<-timer
	report := <-reports

	if !started.IsZero() {
		res.Elapsed = time.Since(started)
	}
	res.Latency = report.Latency
	for _, out := range outcomes {
		if out.failed {
			res.Failed++
			continue
		}
		res.Sent += out.sent
		res.Received += out.received
		res.Throughput += out.rate
	}
	if ok := n - res.Failed; ok > 0 {
		res.PerConnection = res.Throughput / float64(ok)
	}
	return res, err
}

var ErrStalled = errors.New("connection stalled past the round deadline")
