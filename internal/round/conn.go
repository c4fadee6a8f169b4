package round

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mqttwrk/internal/barrier"
	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/stats"
)

// stampSize bytes at the head of every payload carry the send time.
const stampSize = 8

type outcome struct {
	sent     uint64
	received uint64
	rate     float64
	failed   bool
	stats    *stats.SessionStats
}

// pingPong is one connection of a round. It echoes through its own topic,
// keeping a fixed number of messages in flight.
type pingPong struct {
	cfg    *Config
	dialer mqtt.Dialer
	log    *zap.Logger

	barrier *barrier.Barrier
	// stop is cancelled when the round ends.
	stop      context.Context
	exhausted func()
	progress  func(uint64)

	id    string
	topic string
	conn  mqtt.Conn
}

func (p *pingPong) run(ctx context.Context) (outcome, error) {
	p.id = uuid.NewString()
	p.topic = "mqttwrk/round/" + p.id
	p.log = p.log.With(zap.String("id", p.id))

	if err := p.setup(ctx); err != nil {
		// leave the cohort so the round can start without us
		p.barrier.Arrive()
		if p.conn != nil {
			_ = p.conn.Disconnect(context.Background())
		}
		return outcome{failed: true}, fmt.Errorf("%s: %w: %w", p.id, runner.ErrConnect, err)
	}
	defer p.conn.Disconnect(context.Background())

	err := p.barrier.Await(ctx, func(ctx context.Context) error {
		e, err := p.conn.Poll(ctx)
		if err != nil {
			return err
		}
		if !ping(e) {
			return &runner.UnexpectedPacketError{ID: p.id, Event: e}
		}
		return nil
	})
	if err != nil {
		return outcome{failed: true}, err
	}

	out, err := p.measure(ctx)
	if err != nil {
		out.failed = true
	}
	return out, err
}

func (p *pingPong) setup(ctx context.Context) error {
	conn, err := p.dialer.Dial(ctx, mqtt.Options{
		ClientID:       p.id,
		Host:           p.cfg.Host,
		Port:           p.cfg.Port,
		KeepAlive:      p.cfg.KeepAlive,
		ConnectTimeout: p.cfg.ConnectTimeout,
		// acks and echoes race, so leave room for both
		MaxInflight:  2 * p.cfg.InFlight,
		CleanSession: true,
		TLS:          p.cfg.TLS,
	})
	if err != nil {
		return err
	}
	p.conn = conn

	sctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	if err := p.expect(sctx, mqtt.ConnAck); err != nil {
		return err
	}
	if err := conn.Subscribe(sctx, p.topic, mqtt.AtLeastOnce); err != nil {
		return err
	}
	return p.expect(sctx, mqtt.SubAck)
}

func (p *pingPong) expect(ctx context.Context, kind mqtt.EventKind) error {
	for {
		e, err := p.conn.Poll(ctx)
		if err != nil {
			return err
		}
		switch {
		case e.Kind == kind:
			if kind == mqtt.SubAck && e.ReturnCode >= 0x80 {
				return &runner.SubscriptionRejectedError{ID: p.id, Filter: p.topic, Code: e.ReturnCode}
			}
			return nil
		case ping(e):
		default:
			return &runner.UnexpectedPacketError{ID: p.id, Event: e}
		}
	}
}

func (p *pingPong) publish(ctx context.Context) error {
	payload := make([]byte, p.cfg.PayloadSize)
	binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixNano()))
	return p.conn.Publish(ctx, p.topic, mqtt.AtLeastOnce, false, payload)
}

// measure sends the initial burst, then republishes once per echo until the
// round stops, and drains what is still in flight.
func (p *pingPong) measure(ctx context.Context) (out outcome, err error) {
	st := stats.NewSessionStats(p.id, stats.Publisher)
	out.stats = st

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		st.Elapsed = elapsed
		st.OutgoingPublish = out.sent
		st.PublishCount = out.received
		if us := elapsed.Microseconds(); us > 0 {
			out.rate = float64(out.received) * 1_000_000 / float64(us)
		}
	}()

	stopping := false
	for range p.cfg.InFlight {
		if p.spent(out.sent) {
			break
		}
		if err := p.publish(ctx); err != nil {
			return out, err
		}
		out.sent++
	}

	for !stopping || out.received < out.sent {
		e, err := p.conn.Poll(ctx)
		if err != nil {
			switch {
			case errors.Is(err, mqtt.ErrClosed):
				return out, nil
			case stopping && errors.Is(err, mqtt.ErrConnectionLost):
				return out, nil
			case errors.Is(err, context.DeadlineExceeded):
				return out, fmt.Errorf("%s: %w: %d of %d echoed", p.id, ErrStalled, out.received, out.sent)
			}
			return out, err
		}

		switch e.Kind {
		case mqtt.Publish:
			out.received++
			p.progress(1)
			if len(e.Payload) >= stampSize {
				sent := int64(binary.BigEndian.Uint64(e.Payload))
				st.Latency.Record(time.Duration(time.Now().UnixNano() - sent))
			}
			if stopping {
				continue
			}
			switch {
			case p.stop.Err() != nil:
				stopping = true
			case p.spent(out.sent):
				stopping = true
				p.exhausted()
			default:
				if err := p.publish(ctx); err != nil {
					return out, err
				}
				out.sent++
			}
		case mqtt.PubAck:
			st.AckCount++
		case mqtt.OutgoingPublish, mqtt.OutgoingPubAck:
		default:
			if ping(e) {
				continue
			}
			return out, &runner.UnexpectedPacketError{ID: p.id, Event: e}
		}
	}
	return out, nil
}

func (p *pingPong) spent(sent uint64) bool {
	return p.cfg.Count > 0 && sent >= p.cfg.Count
}

func ping(e mqtt.Event) bool {
	return e.Kind == mqtt.PingResp || e.Kind == mqtt.OutgoingPingReq
}
