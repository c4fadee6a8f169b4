package conformance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"mqttwrk/internal/mqtt"
)

type check struct {
	name string
	run  func(context.Context, *T) error
	// idle checks get two keep-alive intervals on top of the timeout
	idle bool
}

func (s *Suite) checks() []check {
	return []check{
		{name: "basic publish/subscribe", run: basic},
		{name: "keep-alive", run: keepAlive, idle: true},
		{name: "session present", run: sessionPresent},
		{name: "will message", run: willMessage},
		{name: "connack with clean session", run: connAckCleanSession},
		{name: "offline message queueing", run: offlineQueueing},
		{name: "subscribe failure", run: subscribeFailure},
		{name: "redelivery on reconnect", run: redelivery},
		{name: "overlapping subscriptions", run: overlapping},
		{name: "retained messages", run: retained},
		{name: "retained on different connect", run: retainedOtherClient},
		{name: "unsubscribe", run: unsubscribe},
	}
}

func basic(ctx context.Context, t *T) error {
	c, ack, err := t.connect(ctx, "basic")
	if err != nil {
		return err
	}
	if ack.SessionPresent {
		return errors.New("clean session reported session present")
	}

	q0, q1 := t.topic("basic/q0"), t.topic("basic/q1")
	if err := c.subscribe(ctx, q0, mqtt.AtMostOnce); err != nil {
		return err
	}
	if err := c.subscribe(ctx, q1, mqtt.AtLeastOnce); err != nil {
		return err
	}

	if _, err := c.publish(ctx, q0, mqtt.AtMostOnce, false, "QoS 0"); err != nil {
		return err
	}
	if _, err := c.expect(ctx, mqtt.Publish); err != nil {
		return err
	}

	echoed, err := c.publish(ctx, q1, mqtt.AtLeastOnce, false, "QoS 1")
	if err != nil {
		return err
	}
	if len(echoed) == 0 {
		if _, err := c.expect(ctx, mqtt.Publish); err != nil {
			return err
		}
	}
	return nil
}

// keepAlive leaves a connection idle for two keep-alive intervals and checks
// it still works afterwards.
func keepAlive(ctx context.Context, t *T) error {
	c, _, err := t.connect(ctx, "keepalive", withWill(t.topic("keepalive/will"), mqtt.AtMostOnce, "client disconnected"))
	if err != nil {
		return err
	}

	idle := 2 * t.suite.cfg.KeepAlive
	ictx, cancel := context.WithTimeout(ctx, idle)
	defer cancel()
	for {
		e, err := c.next(ictx)
		if err == nil {
			return fmt.Errorf("unexpected %s while idle", e)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			break
		}
		return fmt.Errorf("connection did not survive %s idle: %w", idle, err)
	}

	topic := t.topic("keepalive/echo")
	if err := c.subscribe(ctx, topic, mqtt.AtLeastOnce); err != nil {
		return err
	}
	echoed, err := c.publish(ctx, topic, mqtt.AtLeastOnce, false, "still here")
	if err != nil {
		return err
	}
	if len(echoed) == 0 {
		_, err = c.expect(ctx, mqtt.Publish)
	}
	return err
}

func sessionPresent(ctx context.Context, t *T) error {
	c, ack, err := t.connect(ctx, "session")
	if err != nil {
		return err
	}
	if ack.SessionPresent {
		return errors.New("clean connect reported session present")
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	c, _, err = t.connect(ctx, "session", persistent)
	if err != nil {
		return err
	}
	if err := c.subscribe(ctx, t.topic("session/a"), mqtt.AtMostOnce); err != nil {
		return err
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	c, ack, err = t.connect(ctx, "session", persistent)
	if err != nil {
		return err
	}
	if !ack.SessionPresent {
		return errors.New("persistent session not resumed")
	}
	// leave no state behind
	if err := c.disconnect(); err != nil {
		return err
	}
	_, _, err = t.connect(ctx, "session")
	return err
}

func willMessage(ctx context.Context, t *T) error {
	topic := t.topic("will")
	watcher, _, err := t.connect(ctx, "will-watcher")
	if err != nil {
		return err
	}
	if err := watcher.subscribe(ctx, topic, mqtt.AtMostOnce); err != nil {
		return err
	}

	c, _, err := t.connect(ctx, "will", withWill(topic, mqtt.AtLeastOnce, "client disconnected"))
	if err != nil {
		return err
	}
	if err := c.abort(); err != nil {
		return err
	}

	e, err := watcher.expect(ctx, mqtt.Publish)
	if err != nil {
		return fmt.Errorf("will not delivered: %w", err)
	}
	if string(e.Payload) != "client disconnected" {
		return fmt.Errorf("will payload %q", e.Payload)
	}
	return nil
}

func connAckCleanSession(ctx context.Context, t *T) error {
	c, _, err := t.connect(ctx, "connack", persistent)
	if err != nil {
		return err
	}
	if err := c.subscribe(ctx, t.topic("connack/a"), mqtt.AtMostOnce); err != nil {
		return err
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	c, ack, err := t.connect(ctx, "connack", persistent)
	if err != nil {
		return err
	}
	if !ack.SessionPresent {
		return errors.New("persistent session not resumed")
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	// a clean connect drops the stored session
	c, ack, err = t.connect(ctx, "connack")
	if err != nil {
		return err
	}
	if ack.SessionPresent {
		return errors.New("clean connect reported session present")
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	c, ack, err = t.connect(ctx, "connack", persistent)
	if err != nil {
		return err
	}
	if ack.SessionPresent {
		return errors.New("session survived a clean connect")
	}
	return cleanup(ctx, t, c, "connack")
}

func offlineQueueing(ctx context.Context, t *T) error {
	filter := t.topic("offline/+")
	sub, _, err := t.connect(ctx, "offline", persistent)
	if err != nil {
		return err
	}
	if err := sub.subscribe(ctx, filter, mqtt.AtLeastOnce); err != nil {
		return err
	}
	if err := sub.disconnect(); err != nil {
		return err
	}

	pub, _, err := t.connect(ctx, "offline-publisher")
	if err != nil {
		return err
	}
	if _, err := pub.publish(ctx, t.topic("offline/a"), mqtt.AtMostOnce, false, "QoS 0"); err != nil {
		return err
	}
	if _, err := pub.publish(ctx, t.topic("offline/b"), mqtt.AtLeastOnce, false, "QoS 1"); err != nil {
		return err
	}

	sub, ack, err := t.connect(ctx, "offline", persistent)
	if err != nil {
		return err
	}
	if !ack.SessionPresent {
		return errors.New("persistent session not resumed")
	}
	got, err := sub.drain(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(topics(got), t.topic("offline/b")) {
		return fmt.Errorf("QoS 1 message not queued, got %v", topics(got))
	}
	if slices.Contains(topics(got), t.topic("offline/a")) {
		t.note("broker queues QoS 0 messages for offline clients")
	} else {
		t.note("broker does not queue QoS 0 messages for offline clients")
	}
	return cleanup(ctx, t, sub, "offline")
}

func subscribeFailure(ctx context.Context, t *T) error {
	c, _, err := t.connect(ctx, "sub-failure")
	if err != nil {
		return err
	}
	filter := "$SYS/mqttwrk/donotsubscribe"
	if err := c.Subscribe(ctx, filter, mqtt.AtMostOnce); err != nil {
		return err
	}
	e, err := c.next(ctx)
	switch {
	case err != nil:
		t.note("broker closed the connection: %v", err)
		return nil
	case e.Kind != mqtt.SubAck:
		return fmt.Errorf("expected suback, got %s", e)
	case e.ReturnCode < 0x80:
		return fmt.Errorf("subscription to %s granted", filter)
	}
	return nil
}

func redelivery(ctx context.Context, t *T) error {
	filter := t.topic("redelivery/+")
	sub, _, err := t.connect(ctx, "redelivery", persistent)
	if err != nil {
		return err
	}
	if err := sub.subscribe(ctx, filter, mqtt.AtLeastOnce); err != nil {
		return err
	}
	if err := sub.abort(); err != nil {
		return err
	}

	pub, _, err := t.connect(ctx, "redelivery-publisher")
	if err != nil {
		return err
	}
	payload := strings.Repeat("1", 1024)
	if _, err := pub.publish(ctx, t.topic("redelivery/a"), mqtt.AtLeastOnce, false, payload); err != nil {
		return err
	}

	sub, _, err = t.connect(ctx, "redelivery", persistent)
	if err != nil {
		return err
	}
	e, err := sub.expect(ctx, mqtt.Publish)
	if err != nil {
		return fmt.Errorf("message not redelivered: %w", err)
	}
	if len(e.Payload) != len(payload) {
		return fmt.Errorf("redelivered payload has %d bytes, want %d", len(e.Payload), len(payload))
	}
	return cleanup(ctx, t, sub, "redelivery")
}

func overlapping(ctx context.Context, t *T) error {
	c, _, err := t.connect(ctx, "overlapping")
	if err != nil {
		return err
	}
	if err := c.subscribe(ctx, t.topic("overlap/+"), mqtt.AtMostOnce); err != nil {
		return err
	}
	if err := c.subscribe(ctx, t.topic("overlap/#"), mqtt.AtLeastOnce); err != nil {
		return err
	}

	echoed, err := c.publish(ctx, t.topic("overlap/a"), mqtt.AtLeastOnce, false, "overlapping topic filter")
	if err != nil {
		return err
	}
	rest, err := c.drain(ctx)
	if err != nil {
		return err
	}
	switch n := len(echoed) + len(rest); n {
	case 0:
		return errors.New("no publish for overlapping subscriptions")
	case 1:
		t.note("broker publishes one message for all matching subscriptions")
	default:
		t.note("broker publishes one message per overlapping subscription (%d)", n)
	}
	return nil
}

func retained(ctx context.Context, t *T) error {
	q0, q1 := t.topic("retained/qos 0"), t.topic("retained/qos 1")
	filter := t.topic("retained/+")

	c, _, err := t.connect(ctx, "retained")
	if err != nil {
		return err
	}
	if err := publishRetained(ctx, c, q0, q1); err != nil {
		return err
	}
	if err := expectRetained(ctx, c, filter, 2); err != nil {
		return err
	}
	if err := c.disconnect(); err != nil {
		return err
	}

	c, _, err = t.connect(ctx, "retained")
	if err != nil {
		return err
	}
	if err := clearRetained(ctx, c, q0, q1); err != nil {
		return err
	}
	return expectRetained(ctx, c, filter, 0)
}

func retainedOtherClient(ctx context.Context, t *T) error {
	q0, q1 := t.topic("retained2/qos 0"), t.topic("retained2/qos 1")
	filter := t.topic("retained2/+")

	pub, _, err := t.connect(ctx, "retained-publisher")
	if err != nil {
		return err
	}
	if err := publishRetained(ctx, pub, q0, q1); err != nil {
		return err
	}
	if err := pub.disconnect(); err != nil {
		return err
	}

	sub, _, err := t.connect(ctx, "retained-subscriber")
	if err != nil {
		return err
	}
	if err := expectRetained(ctx, sub, filter, 2); err != nil {
		return err
	}
	if err := sub.disconnect(); err != nil {
		return err
	}

	pub, _, err = t.connect(ctx, "retained-publisher")
	if err != nil {
		return err
	}
	if err := clearRetained(ctx, pub, q0, q1); err != nil {
		return err
	}

	sub, _, err = t.connect(ctx, "retained-subscriber")
	if err != nil {
		return err
	}
	return expectRetained(ctx, sub, filter, 0)
}

func publishRetained(ctx context.Context, c *client, q0, q1 string) error {
	if _, err := c.publish(ctx, q0, mqtt.AtMostOnce, true, "QoS 0"); err != nil {
		return err
	}
	_, err := c.publish(ctx, q1, mqtt.AtLeastOnce, true, "QoS 1")
	return err
}

func clearRetained(ctx context.Context, c *client, q0, q1 string) error {
	if _, err := c.publish(ctx, q0, mqtt.AtMostOnce, true, ""); err != nil {
		return err
	}
	_, err := c.publish(ctx, q1, mqtt.AtLeastOnce, true, "")
	return err
}

// expectRetained subscribes and checks that exactly want retained messages
// arrive.
func expectRetained(ctx context.Context, c *client, filter string, want int) error {
	if err := c.subscribe(ctx, filter, mqtt.AtMostOnce); err != nil {
		return err
	}
	got, err := c.drain(ctx)
	if err != nil {
		return err
	}
	if len(got) != want {
		return fmt.Errorf("%d retained messages on %s, want %d", len(got), filter, want)
	}
	for _, e := range got {
		if !e.Retained {
			return fmt.Errorf("message on %s is not flagged retained", e.Topic)
		}
	}
	return nil
}

func unsubscribe(ctx context.Context, t *T) error {
	a, ab, c := t.topic("unsub/A"), t.topic("unsub/A/B"), t.topic("unsub/C")

	sub, _, err := t.connect(ctx, "unsubscribe")
	if err != nil {
		return err
	}
	for _, f := range []string{a, ab, c} {
		if err := sub.subscribe(ctx, f, mqtt.AtMostOnce); err != nil {
			return err
		}
	}
	if err := sub.Unsubscribe(ctx, a); err != nil {
		return err
	}
	if _, err := sub.expect(ctx, mqtt.UnsubAck); err != nil {
		return err
	}

	pub, _, err := t.connect(ctx, "unsubscribe-publisher")
	if err != nil {
		return err
	}
	for _, topic := range []string{a, ab, c} {
		if _, err := pub.publish(ctx, topic, mqtt.AtLeastOnce, false, ""); err != nil {
			return err
		}
	}

	got, err := sub.drain(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(topics(got), a) {
		return fmt.Errorf("received %s after unsubscribing", a)
	}
	if len(got) != 2 {
		return fmt.Errorf("received %v, want %s and %s", topics(got), ab, c)
	}
	return nil
}

// cleanup drops a persistent session by reconnecting clean.
func cleanup(ctx context.Context, t *T, c *client, name string) error {
	if err := c.disconnect(); err != nil {
		return err
	}
	c, _, err := t.connect(ctx, name)
	if err != nil {
		return err
	}
	return c.disconnect()
}
