package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mqttwrk/internal/barrier"
	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/workload"
)

// Cohort is the state a session shares with the rest of its run.
type Cohort struct {
	Barrier *barrier.Barrier
	Agg     *stats.Aggregator

	publishers     int
	lostPublishers atomic.Int64
	finished       atomic.Int64

	// published is cancelled once every publisher has stopped sending.
	published    context.Context
	allPublished context.CancelFunc
}

func NewCohort(publishers, subscribers int, agg *stats.Aggregator) *Cohort {
	c := &Cohort{
		Barrier:    barrier.New(publishers + subscribers),
		Agg:        agg,
		publishers: publishers,
	}
	c.published, c.allPublished = context.WithCancel(context.Background())
	if publishers <= 0 {
		c.allPublished()
	}
	return c
}

// LosePublisher records a publisher that will never send, so subscribers
// stop expecting its messages.
func (c *Cohort) LosePublisher() {
	c.lostPublishers.Add(1)
	c.publisherDone()
}

func (c *Cohort) publisherDone() {
	if c.finished.Add(1) >= int64(c.publishers) {
		c.allPublished()
	}
}

// PublishersDone reports whether every publisher has finished or was lost.
func (c *Cohort) PublishersDone() bool {
	return c.published.Err() != nil
}

func (c *Cohort) expectedPublishers(cfg *Config) int {
	n := cfg.Publishers - int(c.lostPublishers.Load())
	if n < 0 {
		return 0
	}
	return n
}

// Session drives one connection through connect, subscribe, barrier and
// measurement. It owns its connection exclusively.
type Session struct {
	id     string
	role   stats.Role
	cfg    *Config
	dialer mqtt.Dialer
	conn   mqtt.Conn
	log    *zap.Logger

	// events polled while waiting at the barrier that measurement must see
	backlog []mqtt.Event
}

// Connect opens a connection and completes its subscriptions. Subscribers
// subscribe to the run's topic filter; publishers subscribe to nothing.
func Connect(ctx context.Context, dialer mqtt.Dialer, id string, role stats.Role, cfg *Config, log *zap.Logger) (*Session, error) {
	log = log.With(zap.String("id", id))

	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	conn, err := dialer.Dial(ctx, cfg.options(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", id, ErrConnect, err)
	}

	s := &Session{id: id, role: role, cfg: cfg, dialer: dialer, conn: conn, log: log}
	if err := s.setup(ctx); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 30 * time.Second
	}
	// connect plus subscribe round trips
	return 2 * c.ConnectTimeout
}

func (s *Session) setup(ctx context.Context) error {
	var filters []string
	if s.role == stats.Subscriber {
		filters = []string{s.cfg.Topic().Filter(s.cfg.RunID)}
	}

	connected := false
	subAcks := 0
	for !connected || subAcks < len(filters) {
		e, err := s.conn.Poll(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w: %w", s.id, ErrConnect, err)
		}

		switch e.Kind {
		case mqtt.ConnAck:
			if connected {
				return &UnexpectedPacketError{ID: s.id, Event: e}
			}
			connected = true
			for _, f := range filters {
				if err := s.conn.Subscribe(ctx, f, s.cfg.SubscribeQoS); err != nil {
					return fmt.Errorf("%s: %w: subscribe %s: %w", s.id, ErrConnect, f, err)
				}
			}
		case mqtt.SubAck:
			if e.ReturnCode >= 0x80 {
				return &SubscriptionRejectedError{ID: s.id, Filter: filters[0], Code: e.ReturnCode}
			}
			subAcks++
		case mqtt.OutgoingPingReq, mqtt.PingResp:
		default:
			return &UnexpectedPacketError{ID: s.id, Event: e}
		}
	}

	s.log.Debug("session ready", zap.Int("subscriptions", len(filters)))
	return nil
}

func (s *Session) ID() string {
	return s.id
}

// Close disconnects. A connection already closed is not an error.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.conn.Disconnect(ctx); err != nil && !errors.Is(err, mqtt.ErrClosed) {
		return err
	}
	return nil
}

// reconnect replaces a lost connection with a fresh one and redoes its
// subscriptions. Events still queued on the old connection are dropped.
func (s *Session) reconnect(ctx context.Context) error {
	_ = s.conn.Disconnect(context.Background())
	s.backlog = nil

	ctx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout())
	defer cancel()

	conn, err := s.dialer.Dial(ctx, s.cfg.options(s.id))
	if err != nil {
		return fmt.Errorf("%s: redial: %w", s.id, err)
	}
	s.conn = conn
	if err := s.setup(ctx); err != nil {
		return err
	}
	s.log.Info("reconnected")
	return nil
}

// Start waits for the cohort while keeping the connection serviced, then
// measures until the session's target is reached. It always returns the
// session's stats, even when measurement ended early.
func (s *Session) Start(ctx context.Context, c *Cohort) *stats.SessionStats {
	st := stats.NewSessionStats(s.id, s.role)
	if s.role == stats.Publisher {
		defer c.publisherDone()
	}

	err := c.Barrier.Await(ctx, func(ctx context.Context) error {
		e, err := s.conn.Poll(ctx)
		if err != nil {
			return err
		}
		switch e.Kind {
		case mqtt.PingResp, mqtt.OutgoingPingReq:
			s.log.Debug("ping", zap.Stringer("event", e))
		default:
			s.backlog = append(s.backlog, e)
		}
		return nil
	})
	switch {
	case ctx.Err() != nil:
		return st
	case err != nil:
		s.log.Error("connection error while waiting for cohort", zap.Error(err))
		if s.connectionError(ctx, st, err) {
			return st
		}
	}

	if s.role == stats.Subscriber {
		s.runSubscriber(ctx, c, st)
	} else {
		s.runPublisher(ctx, c, st)
	}
	return st
}

// connectionError accounts a poll error and reports whether measurement must
// stop. Below the reconnect limit the session redials before returning.
func (s *Session) connectionError(ctx context.Context, st *stats.SessionStats, err error) bool {
	if ctx.Err() != nil || errors.Is(err, mqtt.ErrClosed) {
		return true
	}
	st.Reconnects++
	s.log.Error("connection error", zap.Error(err), zap.Uint64("reconnects", st.Reconnects))
	if st.Reconnects >= uint64(s.cfg.ReconnectLimit) {
		return true
	}
	if err := s.reconnect(ctx); err != nil {
		s.log.Error("reconnect failed", zap.Error(err))
		return true
	}
	return false
}

// publishing is one run of the publish loop on one connection.
type publishing struct {
	cancel context.CancelFunc
	done   chan struct{}

	// issued counts acknowledged-QoS workload publishes the connection took.
	issued uint64
	// dropped counts workload messages that never reached a connection.
	dropped uint64
}

func (s *Session) startPublishing(ctx context.Context, gen *workload.Generator) *publishing {
	pctx, cancel := context.WithCancel(ctx)
	p := &publishing{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		s.publishLoop(pctx, s.conn, gen, p)
	}()
	return p
}

// stop ends the loop and waits for it, after which its counters are final.
func (p *publishing) stop() {
	p.cancel()
	<-p.done
}

func (s *Session) runPublisher(ctx context.Context, c *Cohort, st *stats.SessionStats) {
	cfg := s.cfg
	qos := cfg.PublishQoS

	// QoS 0 runs finish on the ack of their sync publish. Idle sessions
	// never publish and stay connected until ctx is done.
	target := uint64(cfg.Count)
	if cfg.Count == 0 || !qos.Acked() {
		target = 1
	}

	start := time.Now()
	var (
		gen  *workload.Generator
		loop *publishing
	)
	if cfg.Count > 0 {
		gen = workload.New(cfg.Count, cfg.Items)
		loop = s.startPublishing(ctx, gen)
		defer func() { loop.stop() }()
	}

	syncTopic := cfg.syncTopic(s.id)
	latencies := make([]time.Time, cfg.MaxInflight+1)
	slot := func(pkid uint16) int { return int(pkid) % len(latencies) }

	// acks matched to a publish on the current connection
	var acks, matched uint64
measure:
	for acks < target {
		e, err := s.next(ctx)
		if err != nil {
			if loop != nil {
				loop.stop()
			}
			if s.connectionError(ctx, st, err) {
				break
			}
			if loop != nil {
				// publishes the old connection never confirmed are gone
				if qos.Acked() {
					lost := loop.dropped
					if loop.issued > matched {
						lost += loop.issued - matched
					}
					target -= min(lost, target-acks)
				}
				clear(latencies)
				loop = s.startPublishing(ctx, gen)
			}
			matched = 0
			continue
		}

		switch e.Kind {
		case mqtt.OutgoingPublish:
			if e.QoS.Acked() {
				latencies[slot(e.Pkid)] = time.Now()
			}
			if !qos.Acked() && e.Topic != syncTopic {
				st.OutgoingPublish++
				c.Agg.Progress(1)
			}
		case mqtt.PubAck:
			acks++
			st.AckCount++
			sent := latencies[slot(e.Pkid)]
			if sent.IsZero() {
				st.Unsolicited++
				s.log.Warn("unsolicited puback", zap.Uint16("pkid", e.Pkid))
				continue
			}
			matched++
			latencies[slot(e.Pkid)] = time.Time{}
			st.Latency.Record(time.Since(sent))
			if qos.Acked() {
				st.OutgoingPublish++
				c.Agg.Progress(1)
			}
		case mqtt.PingResp, mqtt.OutgoingPingReq:
			s.log.Debug("ping", zap.Stringer("event", e))
		default:
			s.log.Error("unexpected packet", zap.Stringer("event", e))
			break measure
		}
	}

	st.Elapsed = time.Since(start)
}

// publishLoop sends the session's workload on conn. QoS 0 runs end with one
// QoS 1 publish so the measurement loop has an ack to finish on.
func (s *Session) publishLoop(ctx context.Context, conn mqtt.Conn, gen *workload.Generator, p *publishing) {
	cfg := s.cfg
	topics := make(map[workload.Kind]string, len(cfg.Items))
	for {
		msg, ok, err := gen.Next(ctx)
		if err != nil || !ok {
			break
		}

		topic, cached := topics[msg.Item.Kind]
		if !cached {
			topic = cfg.Topic().Render(TopicData{
				SessionID: s.id,
				RunID:     cfg.RunID,
				DataKind:  msg.Item.Kind.String(),
			})
			topics[msg.Item.Kind] = topic
		}

		// a failed publish means the connection is gone; the
		// measurement loop has already seen the error
		if err := conn.Publish(ctx, topic, cfg.PublishQoS, false, msg.Payload); err != nil {
			p.dropped++
			s.log.Debug("publish loop stopped", zap.Error(err), zap.Int("remaining", gen.Remaining()))
			return
		}
		if cfg.PublishQoS.Acked() {
			p.issued++
		}
	}

	if !cfg.PublishQoS.Acked() {
		if err := conn.Publish(ctx, cfg.syncTopic(s.id), mqtt.AtLeastOnce, false, nil); err != nil {
			s.log.Debug("sync publish failed", zap.Error(err))
		}
	}
}

func (s *Session) runSubscriber(ctx context.Context, c *Cohort, st *stats.SessionStats) {
	cfg := s.cfg
	required := uint64(cfg.Count) * uint64(c.expectedPublishers(cfg))

	var first, last time.Time
loop:
	for st.PublishCount < required {
		e, err := s.poll(ctx, c)
		if err != nil {
			if ctx.Err() == nil {
				switch {
				case errors.Is(err, context.Canceled):
					// the last publisher finished; poll again with the drain timeout
					continue
				case errors.Is(err, context.DeadlineExceeded) && c.PublishersDone():
					s.log.Warn("publishers finished before every message arrived",
						zap.Uint64("received", st.PublishCount),
						zap.Uint64("expected", required))
					break loop
				case errors.Is(err, context.DeadlineExceeded):
					s.log.Warn("no publishes within idle timeout",
						zap.Duration("timeout", cfg.IdleTimeout),
						zap.Uint64("received", st.PublishCount),
						zap.Uint64("expected", required))
					break loop
				}
			}
			if s.connectionError(ctx, st, err) {
				break
			}
			continue
		}

		switch e.Kind {
		case mqtt.Publish:
			now := time.Now()
			if st.PublishCount == 0 {
				first = now
			} else {
				st.Latency.Record(now.Sub(last))
			}
			last = now
			st.PublishCount++

			if cfg.SleepSub > 0 && st.PublishCount%100 == 0 {
				select {
				case <-time.After(cfg.SleepSub):
				case <-ctx.Done():
				}
			}
		case mqtt.OutgoingPubAck:
			st.AckCount++
		case mqtt.PingResp, mqtt.OutgoingPingReq:
			s.log.Debug("ping", zap.Stringer("event", e))
		default:
			s.log.Error("unexpected packet", zap.Stringer("event", e))
			break loop
		}
	}

	if !first.IsZero() {
		st.Elapsed = last.Sub(first)
	}
}

func (s *Session) next(ctx context.Context) (mqtt.Event, error) {
	if len(s.backlog) > 0 {
		e := s.backlog[0]
		s.backlog = s.backlog[1:]
		return e, nil
	}
	return s.conn.Poll(ctx)
}

// poll waits for the next subscriber event. It gives up after IdleTimeout,
// after the drain period once every publisher is done, and returns
// context.Canceled when the last publisher finishes mid-wait.
func (s *Session) poll(ctx context.Context, c *Cohort) (mqtt.Event, error) {
	if len(s.backlog) > 0 {
		return s.next(ctx)
	}

	timeout := s.cfg.IdleTimeout
	draining := c.PublishersDone()
	if d := s.cfg.drain(); draining && (timeout <= 0 || d < timeout) {
		timeout = d
	}

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if !draining {
		stop := context.AfterFunc(c.published, cancel)
		defer stop()
	}
	return s.conn.Poll(ctx)
}
