package dummy

import (
	"context"
	"sync/atomic"
	"time"

	"mqttwrk/internal/mqtt"
)

type conn struct {
	broker   *Broker
	sess     *session
	opts     mqtt.Options
	queue    *mqtt.Queue
	inflight *mqtt.Inflight

	ctx    context.Context
	cancel context.CancelFunc

	subID    atomic.Uint32
	pubID    atomic.Uint32
	detached atomic.Bool
}

// deliver pushes an incoming publish. Callers hold the broker lock.
func (c *conn) deliver(e mqtt.Event) {
	if e.QoS.Acked() {
		e.Pkid = uint16(c.pubID.Add(1)%65535) + 1
	}
	c.queue.Push(e)
	if e.QoS.Acked() {
		c.queue.Push(mqtt.Event{Kind: mqtt.OutgoingPubAck, Pkid: e.Pkid})
	}
	c.broker.delivered.Add(1)
}

func (c *conn) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.queue.Push(mqtt.Event{Kind: mqtt.OutgoingPingReq})
			c.queue.Push(mqtt.Event{Kind: mqtt.PingResp})
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) Poll(ctx context.Context) (mqtt.Event, error) {
	return c.queue.Pop(ctx)
}

func (c *conn) closed() bool {
	return c.ctx.Err() != nil
}

func (c *conn) Subscribe(_ context.Context, filter string, qos mqtt.QoS) error {
	if c.closed() {
		return mqtt.ErrClosed
	}
	b := c.broker
	id := uint16(c.subID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()

	if rejected(filter) {
		c.queue.Push(mqtt.Event{Kind: mqtt.SubAck, Pkid: id, ReturnCode: 0x80})
		return nil
	}
	c.sess.subs[filter] = qos
	c.queue.Push(mqtt.Event{Kind: mqtt.SubAck, Pkid: id, ReturnCode: byte(qos)})

	for topic, m := range b.retained {
		if mqtt.Match(filter, topic) {
			c.deliver(mqtt.Event{Kind: mqtt.Publish, Topic: topic, Payload: m.payload, QoS: min(m.qos, qos), Retained: true})
		}
	}
	return nil
}

func (c *conn) Unsubscribe(_ context.Context, filters ...string) error {
	if c.closed() {
		return mqtt.ErrClosed
	}
	b := c.broker
	id := uint16(c.subID.Add(1))

	b.mu.Lock()
	for _, f := range filters {
		delete(c.sess.subs, f)
	}
	c.queue.Push(mqtt.Event{Kind: mqtt.UnsubAck, Pkid: id})
	b.mu.Unlock()
	return nil
}

func (c *conn) Publish(ctx context.Context, topic string, qos mqtt.QoS, retained bool, payload []byte) error {
	if c.closed() {
		return mqtt.ErrClosed
	}
	b := c.broker

	var pkid uint16
	if qos.Acked() {
		actx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		id, err := c.inflight.Acquire(actx)
		if err != nil {
			if c.closed() {
				return mqtt.ErrClosed
			}
			return err
		}
		pkid = id
	}

	b.mu.Lock()
	if c.detached.Load() {
		b.mu.Unlock()
		if qos.Acked() {
			c.inflight.Release(pkid)
		}
		return mqtt.ErrClosed
	}
	c.queue.Push(mqtt.Event{Kind: mqtt.OutgoingPublish, Pkid: pkid, Topic: topic, QoS: qos})
	b.published.Add(1)
	b.route(topic, payload, qos, retained)
	b.mu.Unlock()

	if !qos.Acked() {
		return nil
	}

	ack := func() {
		c.queue.Push(mqtt.Event{Kind: mqtt.PubAck, Pkid: pkid})
		c.inflight.Release(pkid)
	}
	if d := b.cfg.Profile.delay(); d > 0 {
		time.AfterFunc(d, ack)
	} else {
		ack()
	}
	return nil
}

// detach removes the connection from its session, publishing the will when
// the close was not graceful.
func (c *conn) detach(publishWill bool) {
	if !c.detached.CompareAndSwap(false, true) {
		return
	}
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.sess.conn == c {
		c.sess.conn = nil
		if c.sess.clean {
			if cur, ok := b.sessions[c.sess.id]; ok && cur == c.sess {
				delete(b.sessions, c.sess.id)
			}
		}
	}
	if w := c.opts.Will; publishWill && w != nil {
		b.published.Add(1)
		b.route(w.Topic, w.Payload, w.QoS, w.Retained)
	}
}

func (c *conn) Disconnect(context.Context) error {
	if c.closed() {
		return mqtt.ErrClosed
	}
	c.detach(false)
	c.cancel()
	c.queue.Close()
	return nil
}

// Abort drops the connection without DISCONNECT.
func (c *conn) Abort() error {
	if c.closed() {
		return mqtt.ErrClosed
	}
	c.detach(true)
	c.cancel()
	c.queue.Close()
	return nil
}
