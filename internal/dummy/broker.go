// Package dummy is an in-process MQTT broker used by --dry-run and by tests.
// It speaks the mqtt.Conn event protocol directly, without a wire format.
package dummy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mqttwrk/internal/mqtt"
)

// Profile shapes how long the broker takes to acknowledge a publish.
type Profile string

const (
	Instant Profile = "instant"
	// Fast acks in 10-50us.
	Fast Profile = "fast"
	// Medium acks in 100-300us.
	Medium Profile = "medium"
	// Spike is usually fast and occasionally very slow, so the tail
	// percentiles separate from the median.
	Spike Profile = "spike"
)

func (p Profile) delay() time.Duration {
	switch p {
	case Fast:
		return time.Duration(rand.IntN(40)+10) * time.Microsecond
	case Medium:
		return time.Duration(rand.IntN(200)+100) * time.Microsecond
	case Spike:
		if rand.Float32() < 0.05 {
			return 2 * time.Millisecond
		}
		return 20 * time.Microsecond
	}
	return 0
}

type ServerConfig struct {
	Profile Profile
	// Reject, when set, can refuse a connection by client id.
	Reject func(clientID string) error
}

type retainedMsg struct {
	payload []byte
	qos     mqtt.QoS
}

type session struct {
	id      string
	clean   bool
	subs    map[string]mqtt.QoS
	conn    *conn
	offline []mqtt.Event
}

// Broker routes publishes between connections dialed through it.
type Broker struct {
	cfg ServerConfig

	mu       sync.Mutex
	sessions map[string]*session
	retained map[string]retainedMsg

	published atomic.Uint64
	delivered atomic.Uint64
}

func New(cfg ServerConfig) *Broker {
	return &Broker{
		cfg:      cfg,
		sessions: make(map[string]*session),
		retained: make(map[string]retainedMsg),
	}
}

// Published is the number of publishes accepted from clients.
func (b *Broker) Published() uint64 {
	return b.published.Load()
}

// Delivered is the number of publishes handed to subscribers.
func (b *Broker) Delivered() uint64 {
	return b.delivered.Load()
}

// Connected reports whether a client id currently has a live connection.
func (b *Broker) Connected(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[clientID]
	return ok && s.conn != nil
}

// Dial implements mqtt.Dialer.
func (b *Broker) Dial(ctx context.Context, opts mqtt.Options) (mqtt.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.cfg.Reject != nil {
		if err := b.cfg.Reject(opts.ClientID); err != nil {
			return nil, fmt.Errorf("connect %s: %w", opts.Address(), err)
		}
	}

	c := &conn{
		broker:   b,
		opts:     opts,
		queue:    mqtt.NewQueue(),
		inflight: mqtt.NewInflight(opts.MaxInflight),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	b.mu.Lock()
	s, present := b.sessions[opts.ClientID]
	if present && s.conn != nil {
		// session takeover
		old := s.conn
		s.conn = nil
		old.queue.PushErr(fmt.Errorf("%w: session taken over", mqtt.ErrConnectionLost))
		old.cancel()
	}
	if !present || opts.CleanSession || opts.ClientID == "" {
		s = &session{id: opts.ClientID, subs: make(map[string]mqtt.QoS)}
		present = false
		if opts.ClientID != "" {
			b.sessions[opts.ClientID] = s
		}
	}
	s.clean = opts.CleanSession
	s.conn = c
	c.sess = s

	c.queue.Push(mqtt.Event{Kind: mqtt.ConnAck, SessionPresent: present})
	for _, e := range s.offline {
		c.deliver(e)
	}
	s.offline = nil
	b.mu.Unlock()

	if opts.KeepAlive > 0 {
		go c.keepAlive(opts.KeepAlive)
	}
	return c, nil
}

// Kill drops a client's connection as if the network failed. The client sees
// a connection-lost error and its will is published.
func (b *Broker) Kill(clientID string) bool {
	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if !ok || s.conn == nil {
		b.mu.Unlock()
		return false
	}
	c := s.conn
	b.mu.Unlock()

	c.queue.PushErr(fmt.Errorf("%w: killed by broker", mqtt.ErrConnectionLost))
	c.detach(true)
	c.cancel()
	return true
}

// route delivers a publish to every matching subscription. Callers hold b.mu.
func (b *Broker) route(topic string, payload []byte, qos mqtt.QoS, retained bool) {
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = retainedMsg{payload: payload, qos: qos}
		}
	}

	for _, s := range b.sessions {
		for filter, subQoS := range s.subs {
			if !mqtt.Match(filter, topic) {
				continue
			}
			e := mqtt.Event{Kind: mqtt.Publish, Topic: topic, Payload: payload, QoS: min(qos, subQoS)}
			switch {
			case s.conn != nil:
				s.conn.deliver(e)
			case !s.clean && e.QoS.Acked():
				s.offline = append(s.offline, e)
			}
		}
	}
}

func rejected(filter string) bool {
	return strings.HasPrefix(filter, "$SYS/") || filter == ""
}
