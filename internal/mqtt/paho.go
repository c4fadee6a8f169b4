package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// PahoDialer opens connections with the Eclipse Paho client and exposes its
// token and callback API as an ordered event stream.
type PahoDialer struct{}

type pahoConn struct {
	client   paho.Client
	queue    *Queue
	inflight *Inflight

	ctx    context.Context
	cancel context.CancelFunc

	subID atomic.Uint32

	mu      sync.Mutex
	netConn net.Conn
}

func (PahoDialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	c := &pahoConn{
		queue:    NewQueue(),
		inflight: NewInflight(opts.MaxInflight),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	po := paho.NewClientOptions().
		AddBroker(opts.Address()).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetCleanSession(opts.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetDefaultPublishHandler(c.onMessage).
		SetConnectionLostHandler(c.onConnectionLost).
		SetCustomOpenConnectionFn(c.openConnection)
	if opts.TLS != nil {
		po.SetTLSConfig(opts.TLS)
	}
	if w := opts.Will; w != nil {
		po.SetBinaryWill(w.Topic, w.Payload, byte(w.QoS), w.Retained)
	}

	c.client = paho.NewClient(po)
	tok := c.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.close()
		// the attempt may still succeed after we gave up on it
		go func() {
			<-tok.Done()
			c.client.Disconnect(0)
		}()
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		c.close()
		return nil, fmt.Errorf("connect %s: %w", opts.Address(), err)
	}

	ack := Event{Kind: ConnAck}
	if ct, ok := tok.(*paho.ConnectToken); ok {
		ack.SessionPresent = ct.SessionPresent()
		ack.ReturnCode = ct.ReturnCode()
	}
	c.queue.Push(ack)
	return c, nil
}

func (c *pahoConn) openConnection(uri *url.URL, o paho.ClientOptions) (net.Conn, error) {
	d := &net.Dialer{Timeout: o.ConnectTimeout}

	var (
		conn net.Conn
		err  error
	)
	switch uri.Scheme {
	case "ssl", "tls", "mqtts", "tcps":
		conn, err = tls.DialWithDialer(d, "tcp", uri.Host, o.TLSConfig)
	default:
		conn, err = d.Dial("tcp", uri.Host)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.netConn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *pahoConn) onConnectionLost(_ paho.Client, err error) {
	c.queue.PushErr(fmt.Errorf("%w: %v", ErrConnectionLost, err))
}

func (c *pahoConn) onMessage(_ paho.Client, msg paho.Message) {
	qos := QoS(msg.Qos())
	c.queue.Push(Event{
		Kind:     Publish,
		Pkid:     msg.MessageID(),
		Topic:    msg.Topic(),
		Payload:  msg.Payload(),
		QoS:      qos,
		Retained: msg.Retained(),
	})
	if qos.Acked() {
		c.queue.Push(Event{Kind: OutgoingPubAck, Pkid: msg.MessageID()})
	}
}

func (c *pahoConn) Poll(ctx context.Context) (Event, error) {
	return c.queue.Pop(ctx)
}

func (c *pahoConn) Subscribe(_ context.Context, filter string, qos QoS) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	id := uint16(c.subID.Add(1))
	tok := c.client.Subscribe(filter, byte(qos), nil)
	go func() {
		select {
		case <-tok.Done():
		case <-c.ctx.Done():
			return
		}
		if err := tok.Error(); err != nil {
			c.queue.PushErr(fmt.Errorf("subscribe %s: %w", filter, err))
			return
		}
		ack := Event{Kind: SubAck, Pkid: id, ReturnCode: byte(qos)}
		if st, ok := tok.(*paho.SubscribeToken); ok {
			if code, ok := st.Result()[filter]; ok {
				ack.ReturnCode = code
			}
		}
		c.queue.Push(ack)
	}()
	return nil
}

func (c *pahoConn) Unsubscribe(_ context.Context, filters ...string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	id := uint16(c.subID.Add(1))
	tok := c.client.Unsubscribe(filters...)
	go func() {
		select {
		case <-tok.Done():
		case <-c.ctx.Done():
			return
		}
		if err := tok.Error(); err != nil {
			c.queue.PushErr(fmt.Errorf("unsubscribe: %w", err))
			return
		}
		c.queue.Push(Event{Kind: UnsubAck, Pkid: id})
	}()
	return nil
}

func (c *pahoConn) Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	if !qos.Acked() {
		c.queue.Push(Event{Kind: OutgoingPublish, Topic: topic, QoS: qos})
		tok := c.client.Publish(topic, byte(qos), retained, payload)
		select {
		case <-tok.Done():
			return tok.Error()
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	pkid, err := c.inflight.Acquire(actx)
	if err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}

	c.queue.Push(Event{Kind: OutgoingPublish, Pkid: pkid, Topic: topic, QoS: qos})
	tok := c.client.Publish(topic, byte(qos), retained, payload)
	go func() {
		select {
		case <-tok.Done():
		case <-c.ctx.Done():
			return
		}
		// A failed publish is followed by a connection-lost error, which is
		// what the session reacts to.
		if tok.Error() == nil {
			c.queue.Push(Event{Kind: PubAck, Pkid: pkid})
		}
		c.inflight.Release(pkid)
	}()
	return nil
}

func (c *pahoConn) Disconnect(context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.close()
	c.client.Disconnect(250)
	return nil
}

// Abort closes the socket without sending DISCONNECT.
func (c *pahoConn) Abort() error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.mu.Lock()
	conn := c.netConn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.close()
	c.client.Disconnect(0)
	return err
}

func (c *pahoConn) close() {
	c.cancel()
	c.queue.Close()
}
