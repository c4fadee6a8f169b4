package conformance

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mqttwrk/internal/dummy"
	"mqttwrk/internal/mqtt"
)

func testConfig() Config {
	return Config{
		Host:      "localhost",
		Port:      1883,
		Timeout:   5 * time.Second,
		KeepAlive: 100 * time.Millisecond,
		Quiet:     100 * time.Millisecond,
	}
}

func TestSuitePassesAgainstLoopbackBroker(t *testing.T) {
	var out bytes.Buffer
	s := New(testConfig(), dummy.New(dummy.ServerConfig{}), zap.NewNop(), &out)

	results, err := s.Run(context.Background())
	require.NoError(t, err, out.String())

	require.Len(t, results, 12)
	for _, r := range results {
		assert.True(t, r.Passed(), "%s: %v", r.Name, r.Err)
	}
	assert.Contains(t, out.String(), "12/12 checks passed")
	assert.Contains(t, out.String(), "does not queue QoS 0")
	assert.Contains(t, out.String(), "one message per overlapping subscription")
}

// unabortable hides Abort, so the client can only disconnect gracefully.
type unabortable struct {
	mqtt.Conn
}

func TestSuiteReportsFailures(t *testing.T) {
	broker := dummy.New(dummy.ServerConfig{})
	dialer := mqtt.DialerFunc(func(ctx context.Context, o mqtt.Options) (mqtt.Conn, error) {
		c, err := broker.Dial(ctx, o)
		if err != nil {
			return nil, err
		}
		return unabortable{c}, nil
	})

	var out bytes.Buffer
	results, err := New(testConfig(), dialer, zap.NewNop(), &out).Run(context.Background())
	require.ErrorIs(t, err, ErrFailed)

	failed := map[string]bool{}
	for _, r := range results {
		if !r.Passed() {
			failed[r.Name] = true
		}
	}
	assert.Equal(t, map[string]bool{"will message": true, "redelivery on reconnect": true}, failed)
	assert.Contains(t, out.String(), "FAIL")
	assert.Contains(t, out.String(), "10/12 checks passed")
}

func TestSuiteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(testConfig(), dummy.New(dummy.ServerConfig{}), nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
