package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mqttwrk/internal/dummy"
	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/workload"
)

// scripted is a connection that replays a fixed list of poll results.
type scripted struct {
	steps     []step
	published chan struct{}
}

type step struct {
	event mqtt.Event
	err   error
}

func (s *scripted) Poll(ctx context.Context) (mqtt.Event, error) {
	if len(s.steps) == 0 {
		<-ctx.Done()
		return mqtt.Event{}, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.event, st.err
}

func (s *scripted) Subscribe(context.Context, string, mqtt.QoS) error { return nil }
func (s *scripted) Unsubscribe(context.Context, ...string) error      { return nil }
func (s *scripted) Disconnect(context.Context) error                  { return nil }

func (s *scripted) Publish(ctx context.Context, _ string, _ mqtt.QoS, _ bool, _ []byte) error {
	select {
	case s.published <- struct{}{}:
	default:
	}
	return nil
}

func testConfig() *Config {
	cfg := &Config{
		Host:           "localhost",
		Port:           1883,
		MaxInflight:    10,
		ConnectTimeout: time.Second,
		Publishers:     1,
		Subscribers:    1,
		PublishQoS:     mqtt.AtLeastOnce,
		SubscribeQoS:   mqtt.AtLeastOnce,
		Count:          3,
		Items:          []workload.Item{{Kind: workload.Default, PayloadSize: 8}},
		TopicFormat:    "{run_id}/hello/{session_id}/world",
		RunID:          "test",
		ReconnectLimit: 1,
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func scriptedSession(cfg *Config, steps ...step) *Session {
	return &Session{
		id:   "pub-00000",
		role: stats.Publisher,
		cfg:  cfg,
		dialer: mqtt.DialerFunc(func(context.Context, mqtt.Options) (mqtt.Conn, error) {
			return nil, mqtt.ErrConnectionLost
		}),
		conn: &scripted{steps: steps, published: make(chan struct{}, 1)},
		log:  zap.NewNop(),
	}
}

// redialing makes the session's next dial return a connection replaying steps.
func redialing(s *Session, dials *int, steps ...step) {
	s.dialer = mqtt.DialerFunc(func(context.Context, mqtt.Options) (mqtt.Conn, error) {
		*dials++
		return &scripted{steps: steps, published: make(chan struct{}, 1)}, nil
	})
}

func released(agg *stats.Aggregator) *Cohort {
	return NewCohort(0, 0, agg)
}

func ev(kind mqtt.EventKind, pkid uint16) step {
	return step{event: mqtt.Event{Kind: kind, Pkid: pkid, QoS: mqtt.AtLeastOnce}}
}

func TestPublisherSkipsUnsolicitedAcks(t *testing.T) {
	cfg := testConfig()
	s := scriptedSession(cfg,
		ev(mqtt.OutgoingPublish, 1),
		ev(mqtt.PubAck, 1),
		ev(mqtt.PubAck, 1), // duplicate
		ev(mqtt.PubAck, 7), // never sent
	)

	st := s.Start(context.Background(), released(stats.NewAggregator(stats.AggregatorConfig{Sessions: 1})))
	assert.Equal(t, uint64(3), st.AckCount)
	assert.Equal(t, uint64(2), st.Unsolicited)
	assert.Equal(t, int64(1), st.Latency.Count())
	assert.Equal(t, uint64(1), st.OutgoingPublish)
}

func TestPublisherCorrelatesOutOfOrderAcks(t *testing.T) {
	cfg := testConfig()
	s := scriptedSession(cfg,
		ev(mqtt.OutgoingPublish, 1),
		ev(mqtt.OutgoingPublish, 2),
		ev(mqtt.OutgoingPublish, 3),
		ev(mqtt.PubAck, 3),
		ev(mqtt.PubAck, 1),
		ev(mqtt.PubAck, 2),
	)

	st := s.Start(context.Background(), released(stats.NewAggregator(stats.AggregatorConfig{Sessions: 1})))
	assert.Equal(t, int64(3), st.Latency.Count())
	assert.Zero(t, st.Unsolicited)
	assert.Equal(t, uint64(3), st.OutgoingPublish)
}

func TestPublisherStopsAtReconnectLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectLimit = 2
	s := scriptedSession(cfg,
		ev(mqtt.OutgoingPublish, 1),
		step{err: mqtt.ErrConnectionLost},
		ev(mqtt.PubAck, 1),
	)
	dials := 0
	redialing(s, &dials,
		ev(mqtt.ConnAck, 0),
		ev(mqtt.PingResp, 0),
		step{err: mqtt.ErrConnectionLost},
		ev(mqtt.PubAck, 1),
	)

	st := s.Start(context.Background(), released(stats.NewAggregator(stats.AggregatorConfig{Sessions: 1})))
	assert.Equal(t, 1, dials)
	assert.Equal(t, uint64(2), st.Reconnects)
	assert.Zero(t, st.AckCount)
}

func TestPublisherStopsWhenRedialFails(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectLimit = 3
	s := scriptedSession(cfg,
		ev(mqtt.OutgoingPublish, 1),
		step{err: mqtt.ErrConnectionLost},
		ev(mqtt.PubAck, 1),
	)

	done := make(chan *stats.SessionStats, 1)
	go func() {
		done <- s.Start(context.Background(), released(stats.NewAggregator(stats.AggregatorConfig{Sessions: 1})))
	}()
	select {
	case st := <-done:
		assert.Equal(t, uint64(1), st.Reconnects)
		assert.Zero(t, st.AckCount)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher kept measuring on a dead connection")
	}
}

func TestSubscriberStopsAfterPublishersFinish(t *testing.T) {
	cfg := testConfig()
	cfg.Drain = 20 * time.Millisecond
	s := scriptedSession(cfg, ev(mqtt.Publish, 0))
	s.role = stats.Subscriber

	cohort := NewCohort(1, 1, stats.NewAggregator(stats.AggregatorConfig{Sessions: 2}))
	cohort.Barrier.Arrive()

	done := make(chan *stats.SessionStats, 1)
	go func() { done <- s.Start(context.Background(), cohort) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("subscriber stopped while a publisher was still running")
	default:
	}

	cohort.publisherDone()
	select {
	case st := <-done:
		assert.Equal(t, uint64(1), st.PublishCount)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after the publishers finished")
	}
}

func TestPublisherStopsOnUnexpectedPacket(t *testing.T) {
	cfg := testConfig()
	s := scriptedSession(cfg,
		ev(mqtt.OutgoingPublish, 1),
		ev(mqtt.UnsubAck, 1),
		ev(mqtt.PubAck, 1),
	)

	st := s.Start(context.Background(), released(stats.NewAggregator(stats.AggregatorConfig{Sessions: 1})))
	assert.Zero(t, st.AckCount)
}

func TestConnectRejectsUnexpectedPacket(t *testing.T) {
	cfg := testConfig()
	dialer := mqtt.DialerFunc(func(context.Context, mqtt.Options) (mqtt.Conn, error) {
		return &scripted{steps: []step{
			{event: mqtt.Event{Kind: mqtt.ConnAck}},
			{event: mqtt.Event{Kind: mqtt.Publish, Topic: "early"}},
		}}, nil
	})

	_, err := Connect(context.Background(), dialer, "sub-00000", stats.Subscriber, cfg, zap.NewNop())
	var unexpected *UnexpectedPacketError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, mqtt.Publish, unexpected.Event.Kind)
}

func TestConnectFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	dialer := mqtt.DialerFunc(func(context.Context, mqtt.Options) (mqtt.Conn, error) {
		return nil, mqtt.ErrConnectionLost
	})

	_, err := Connect(context.Background(), dialer, "pub-00000", stats.Publisher, cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, mqtt.ErrConnectionLost)
}

func TestNoPublishBeforeBarrierRelease(t *testing.T) {
	cfg := testConfig()
	cfg.Count = 20
	broker := dummy.New(dummy.ServerConfig{})
	agg := stats.NewAggregator(stats.AggregatorConfig{Sessions: 2})
	// the second publisher slot stays empty so the test controls the release
	cohort := NewCohort(2, 1, agg)

	sub, err := Connect(context.Background(), broker, "sub-00000", stats.Subscriber, cfg, zap.NewNop())
	require.NoError(t, err)
	pub, err := Connect(context.Background(), broker, "pub-00000", stats.Publisher, cfg, zap.NewNop())
	require.NoError(t, err)

	results := make(chan *stats.SessionStats, 2)
	go func() { results <- sub.Start(context.Background(), cohort) }()
	go func() { results <- pub.Start(context.Background(), cohort) }()

	require.Eventually(t, func() bool { return cohort.Barrier.Arrived() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, broker.Published(), "published while the cohort was incomplete")

	cohort.Barrier.Arrive()

	byRole := map[stats.Role]*stats.SessionStats{}
	for i := 0; i < 2; i++ {
		select {
		case st := <-results:
			byRole[st.Role] = st
		case <-time.After(5 * time.Second):
			t.Fatal("sessions did not finish")
		}
	}
	assert.Equal(t, uint64(20), byRole[stats.Publisher].OutgoingPublish)
	assert.Equal(t, uint64(20), byRole[stats.Subscriber].PublishCount)
	assert.Equal(t, int64(19), byRole[stats.Subscriber].Latency.Count())
}
