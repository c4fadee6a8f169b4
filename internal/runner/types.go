package runner

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/workload"
)

// Config is shared read-only by every session of a run.
type Config struct {
	Host           string
	Port           int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	MaxInflight    int
	TLS            *tls.Config

	Publishers   int
	Subscribers  int
	PublishQoS   mqtt.QoS
	SubscribeQoS mqtt.QoS

	// Count is the number of messages each publisher sends.
	Count int
	// Items are cycled by every publisher's generator.
	Items []workload.Item

	TopicFormat string
	RunID       string
	// DisableUniquePrefix drops the run id from client ids.
	DisableUniquePrefix bool

	// ReconnectLimit is the number of connection errors after which a
	// session stops measuring.
	ReconnectLimit int
	// SleepSub pauses subscribers every 100 messages to emulate slow consumers.
	SleepSub time.Duration
	// IdleTimeout ends a subscriber that has not received anything for this long.
	IdleTimeout time.Duration
	// Drain is how long subscribers keep listening once every publisher has
	// finished. Zero means one second.
	Drain time.Duration

	// ConnRate caps new connections per second; 0 means unpaced.
	ConnRate float64
	// AllowPartial keeps the run going when some sessions fail to connect.
	AllowPartial bool
	// KeepSessions retains per-session stats in the report.
	KeepSessions bool

	topic *TopicTemplate
}

func (c *Config) Validate() error {
	if c.Publishers < 0 || c.Subscribers < 0 {
		return errors.New("publishers and subscribers must not be negative")
	}
	if c.Publishers+c.Subscribers == 0 {
		return errors.New("nothing to run: no publishers and no subscribers")
	}
	if c.Count < 0 {
		return errors.New("count must not be negative")
	}
	if c.MaxInflight < 1 {
		return fmt.Errorf("max inflight must be at least 1, got %d", c.MaxInflight)
	}
	if c.Publishers > 0 && c.Count > 0 && len(c.Items) == 0 {
		return errors.New("publishers need at least one workload item")
	}
	if c.ReconnectLimit < 1 {
		c.ReconnectLimit = 1
	}
	t, err := ParseTopic(c.TopicFormat)
	if err != nil {
		return err
	}
	c.topic = t
	return nil
}

// Topic returns the parsed topic template. Validate must have been called.
func (c *Config) Topic() *TopicTemplate {
	return c.topic
}

// ExpectedAcks is the number of confirmed publishes across the run.
func (c *Config) ExpectedAcks() uint64 {
	return uint64(c.Count) * uint64(c.Publishers)
}

// ExpectedIncoming is the number of publishes all subscribers should receive.
func (c *Config) ExpectedIncoming() uint64 {
	return c.ExpectedAcks() * uint64(c.Subscribers)
}

// ClientID names the i'th session of a role.
func (c *Config) ClientID(prefix string, i int) string {
	if c.DisableUniquePrefix || c.RunID == "" {
		return fmt.Sprintf("%s-%05d", prefix, i)
	}
	return fmt.Sprintf("%s-%s-%05d", c.RunID, prefix, i)
}

func (c *Config) options(clientID string) mqtt.Options {
	return mqtt.Options{
		ClientID:       clientID,
		Host:           c.Host,
		Port:           c.Port,
		KeepAlive:      c.KeepAlive,
		ConnectTimeout: c.ConnectTimeout,
		MaxInflight:    c.MaxInflight,
		CleanSession:   true,
		TLS:            c.TLS,
	}
}

func (c *Config) drain() time.Duration {
	if c.Drain <= 0 {
		return time.Second
	}
	return c.Drain
}

func (c *Config) syncTopic(sessionID string) string {
	return fmt.Sprintf("mqttwrk-sync/%s/%s", c.RunID, sessionID)
}
