package conformance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mqttwrk/internal/mqtt"
)

// client wraps a connection for scripted checks. Outgoing events and pings
// are skipped.
type client struct {
	mqtt.Conn
	id     string
	quiet  time.Duration
	closed bool
}

func (c *client) next(ctx context.Context) (mqtt.Event, error) {
	for {
		e, err := c.Poll(ctx)
		if err != nil {
			return e, err
		}
		if e.Kind.Outgoing() || e.Kind == mqtt.PingResp {
			continue
		}
		return e, nil
	}
}

func (c *client) expect(ctx context.Context, kind mqtt.EventKind) (mqtt.Event, error) {
	e, err := c.next(ctx)
	if err != nil {
		return e, fmt.Errorf("%s: waiting for %s: %w", c.id, kind, err)
	}
	if e.Kind != kind {
		return e, fmt.Errorf("%s: expected %s, got %s", c.id, kind, e)
	}
	return e, nil
}

func (c *client) subscribe(ctx context.Context, filter string, qos mqtt.QoS) error {
	if err := c.Subscribe(ctx, filter, qos); err != nil {
		return fmt.Errorf("%s: subscribe %s: %w", c.id, filter, err)
	}
	e, err := c.expect(ctx, mqtt.SubAck)
	if err != nil {
		return err
	}
	if e.ReturnCode >= 0x80 {
		return fmt.Errorf("%s: subscription to %s rejected (code %#x)", c.id, filter, e.ReturnCode)
	}
	return nil
}

// publish sends a message and, for acknowledged QoS, waits for the PubAck.
// Publishes delivered back to this client while waiting are returned.
func (c *client) publish(ctx context.Context, topic string, qos mqtt.QoS, retained bool, payload string) ([]mqtt.Event, error) {
	if err := c.Publish(ctx, topic, qos, retained, []byte(payload)); err != nil {
		return nil, fmt.Errorf("%s: publish %s: %w", c.id, topic, err)
	}
	if !qos.Acked() {
		return nil, nil
	}
	var echoed []mqtt.Event
	for {
		e, err := c.next(ctx)
		if err != nil {
			return echoed, fmt.Errorf("%s: waiting for puback: %w", c.id, err)
		}
		switch e.Kind {
		case mqtt.PubAck:
			return echoed, nil
		case mqtt.Publish:
			echoed = append(echoed, e)
		default:
			return echoed, fmt.Errorf("%s: expected puback, got %s", c.id, e)
		}
	}
}

// collect gathers n publishes.
func (c *client) collect(ctx context.Context, n int) ([]mqtt.Event, error) {
	var got []mqtt.Event
	for len(got) < n {
		e, err := c.expect(ctx, mqtt.Publish)
		if err != nil {
			return got, err
		}
		got = append(got, e)
	}
	return got, nil
}

// drain returns every publish that arrives before the connection has been
// quiet for the client's quiet period.
func (c *client) drain(ctx context.Context) ([]mqtt.Event, error) {
	var got []mqtt.Event
	for {
		qctx, cancel := context.WithTimeout(ctx, c.quiet)
		e, err := c.next(qctx)
		cancel()
		switch {
		case err == nil && e.Kind == mqtt.Publish:
			got = append(got, e)
		case err == nil:
			return got, fmt.Errorf("%s: unexpected %s", c.id, e)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return got, nil
		default:
			return got, err
		}
	}
}

func (c *client) disconnect() error {
	c.closed = true
	if err := c.Disconnect(context.Background()); err != nil && !errors.Is(err, mqtt.ErrClosed) {
		return err
	}
	return nil
}

// abort drops the transport without a DISCONNECT packet.
func (c *client) abort() error {
	a, ok := c.Conn.(mqtt.Aborter)
	if !ok {
		return fmt.Errorf("%s: connection cannot be aborted", c.id)
	}
	c.closed = true
	return a.Abort()
}

func (c *client) close() {
	if !c.closed {
		_ = c.disconnect()
	}
}

func topics(events []mqtt.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Topic
	}
	return out
}
