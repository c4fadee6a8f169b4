package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by Poll and Publish after the connection was closed locally.
	ErrClosed = errors.New("mqtt: connection closed")
	// ErrConnectionLost wraps transport failures observed while polling.
	ErrConnectionLost = errors.New("mqtt: connection lost")
)

// Will is the message the broker publishes when a client goes away ungracefully.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Options configures one connection.
type Options struct {
	ClientID       string
	Host           string
	Port           int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	MaxInflight    int
	CleanSession   bool
	TLS            *tls.Config
	Will           *Will
}

// Address returns the broker URI for the options.
func (o Options) Address() string {
	scheme := "tcp"
	if o.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// Client issues requests on a connection. Results arrive through the EventLoop.
type Client interface {
	Subscribe(ctx context.Context, filter string, qos QoS) error
	Unsubscribe(ctx context.Context, filters ...string) error
	// Publish blocks while the connection has MaxInflight unacknowledged publishes.
	Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error
	Disconnect(ctx context.Context) error
}

// EventLoop yields the connection's protocol events in order.
type EventLoop interface {
	Poll(ctx context.Context) (Event, error)
}

// Conn is an established connection. The first polled event is the ConnAck.
type Conn interface {
	Client
	EventLoop
}

// Aborter is implemented by connections that can drop the transport without
// sending DISCONNECT, which makes the broker publish the will.
type Aborter interface {
	Abort() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, opts Options) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, opts Options) (Conn, error) {
	return f(ctx, opts)
}
