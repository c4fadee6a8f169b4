// Package conformance runs scripted protocol checks against a broker: session
// persistence, will and retained messages, offline queueing, redelivery,
// overlapping subscriptions and unsubscribe.
package conformance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/tui/styles"
)

var ErrFailed = errors.New("conformance checks failed")

type Config struct {
	Host string
	Port int
	TLS  *tls.Config

	// Timeout bounds every check.
	Timeout time.Duration
	// KeepAlive is used by every connection and by the keep-alive check.
	KeepAlive time.Duration
	// Quiet is how long a check waits to be sure nothing else arrives.
	Quiet time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Name    string
	Err     error
	Notes   []string
	Elapsed time.Duration
}

func (r Result) Passed() bool {
	return r.Err == nil
}

// Suite runs checks in order. Client ids and topics carry a per-suite id so
// concurrent runs against one broker do not see each other.
type Suite struct {
	cfg    Config
	dialer mqtt.Dialer
	log    *zap.Logger
	out    io.Writer

	id string
}

func New(cfg Config, dialer mqtt.Dialer, log *zap.Logger, out io.Writer) *Suite {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Suite{
		cfg:    cfg,
		dialer: dialer,
		log:    log,
		out:    out,
		id:     uuid.NewString()[:8],
	}
}

// Run executes every check and prints a line per check. It returns ErrFailed
// when any check failed.
func (s *Suite) Run(ctx context.Context) ([]Result, error) {
	checks := s.checks()
	results := make([]Result, 0, len(checks))
	failed := 0

	for i, c := range checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		fmt.Fprintf(s.out, "[%2d/%d] %-36s ", i+1, len(checks), c.name)

		r := s.runCheck(ctx, c)
		results = append(results, r)

		if r.Passed() {
			fmt.Fprintln(s.out, styles.Pass.Render("ok"), styles.Note.Render(r.Elapsed.Round(time.Millisecond).String()))
		} else {
			failed++
			fmt.Fprintln(s.out, styles.Fail.Render("FAIL"), r.Err)
			s.log.Error("check failed", zap.String("check", c.name), zap.Error(r.Err))
		}
		for _, n := range r.Notes {
			fmt.Fprintln(s.out, "        "+styles.Note.Render(n))
		}
	}

	fmt.Fprintf(s.out, "%d/%d checks passed\n", len(checks)-failed, len(checks))
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d", ErrFailed, failed, len(checks))
	}
	return results, nil
}

func (s *Suite) runCheck(ctx context.Context, c check) Result {
	timeout := s.cfg.Timeout
	if c.idle {
		timeout += 2 * s.cfg.KeepAlive
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := &T{suite: s, name: c.name}
	start := time.Now()
	err := c.run(ctx, t)
	t.closeAll()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return Result{Name: c.name, Err: err, Notes: t.notes, Elapsed: time.Since(start)}
}

// T is the state of one running check.
type T struct {
	suite *Suite
	name  string
	notes []string
	open  []*client
}

func (t *T) note(format string, args ...any) {
	t.notes = append(t.notes, fmt.Sprintf(format, args...))
}

// topic namespaces a topic to the suite.
func (t *T) topic(name string) string {
	return "mqttwrk-conformance/" + t.suite.id + "/" + name
}

func (t *T) clientID(name string) string {
	return "conformance-" + name + "-" + t.suite.id
}

type connectOpt func(*mqtt.Options)

func persistent(o *mqtt.Options) { o.CleanSession = false }

func withWill(topic string, qos mqtt.QoS, payload string) connectOpt {
	return func(o *mqtt.Options) {
		o.Will = &mqtt.Will{Topic: topic, QoS: qos, Payload: []byte(payload)}
	}
}

// connect dials and returns the ConnAck. Connections left open are closed when
// the check ends.
func (t *T) connect(ctx context.Context, name string, opts ...connectOpt) (*client, mqtt.Event, error) {
	o := mqtt.Options{
		ClientID:       t.clientID(name),
		Host:           t.suite.cfg.Host,
		Port:           t.suite.cfg.Port,
		KeepAlive:      t.suite.cfg.KeepAlive,
		ConnectTimeout: t.suite.cfg.Timeout,
		MaxInflight:    10,
		CleanSession:   true,
		TLS:            t.suite.cfg.TLS,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := t.suite.dialer.Dial(ctx, o)
	if err != nil {
		return nil, mqtt.Event{}, fmt.Errorf("connect %s: %w", o.ClientID, err)
	}
	c := &client{Conn: conn, id: o.ClientID, quiet: t.suite.cfg.Quiet}
	t.open = append(t.open, c)

	e, err := c.next(ctx)
	if err != nil {
		return nil, e, fmt.Errorf("%s: waiting for connack: %w", c.id, err)
	}
	if e.Kind != mqtt.ConnAck {
		return nil, e, fmt.Errorf("%s: expected connack, got %s", c.id, e)
	}
	if e.ReturnCode != 0 {
		return nil, e, fmt.Errorf("%s: connection refused (code %d)", c.id, e.ReturnCode)
	}
	return c, e, nil
}

func (t *T) closeAll() {
	for _, c := range t.open {
		c.close()
	}
	t.open = nil
}
