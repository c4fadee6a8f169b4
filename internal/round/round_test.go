package round

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mqttwrk/internal/dummy"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/storage"
)

func roundConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           1883,
		InFlight:       4,
		PayloadSize:    32,
		Duration:       150 * time.Millisecond,
		ConnectTimeout: time.Second,
		CoolDown:       10 * time.Millisecond,
		Grace:          2 * time.Second,
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRoundRunsForDuration(t *testing.T) {
	h := NewHarness(roundConfig(), dummy.New(dummy.ServerConfig{}), zap.NewNop())

	res, err := h.RunRound(testCtx(t), 1, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Connections)
	assert.Zero(t, res.Failed)
	assert.Positive(t, res.Received)
	// everything in flight is drained before a connection returns
	assert.Equal(t, res.Sent, res.Received)
	assert.Positive(t, res.Throughput)
	assert.InDelta(t, res.Throughput/3, res.PerConnection, 1e-6)
	assert.GreaterOrEqual(t, res.Elapsed, 150*time.Millisecond)
	assert.Equal(t, int64(res.Received), res.Latency.Count())
}

func TestRoundStopsOnBudget(t *testing.T) {
	cfg := roundConfig()
	cfg.Duration = time.Minute
	cfg.Count = 40
	h := NewHarness(cfg, dummy.New(dummy.ServerConfig{}), zap.NewNop())

	start := time.Now()
	res, err := h.RunRound(testCtx(t), 1, 2)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.LessOrEqual(t, res.Sent, 2*cfg.Count)
	assert.Equal(t, res.Sent, res.Received)
}

func TestRoundBudgetSmallerThanBurst(t *testing.T) {
	cfg := roundConfig()
	cfg.Duration = time.Minute
	cfg.Count = 2
	h := NewHarness(cfg, dummy.New(dummy.ServerConfig{}), zap.NewNop())

	res, err := h.RunRound(testCtx(t), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Sent)
	assert.Equal(t, uint64(2), res.Received)
}

func TestRoundConnectFailure(t *testing.T) {
	boom := errors.New("boom")
	broker := dummy.New(dummy.ServerConfig{
		Reject: func(string) error { return boom },
	})
	h := NewHarness(roundConfig(), broker, zap.NewNop())

	res, err := h.RunRound(testCtx(t), 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrConnect)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Received)
}

func TestRoundFailureKeepsSiblings(t *testing.T) {
	var dialed atomic.Int32
	broker := dummy.New(dummy.ServerConfig{
		Reject: func(string) error {
			if dialed.Add(1) == 1 {
				return errors.New("first one refused")
			}
			return nil
		},
	})
	h := NewHarness(roundConfig(), broker, zap.NewNop())

	res, err := h.RunRound(testCtx(t), 1, 3)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Positive(t, res.Received)
	assert.Equal(t, res.Sent, res.Received)
}

func TestHarnessRecordsRounds(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := roundConfig()
	cfg.Connections = 2
	cfg.RunID = "run"
	h := NewHarness(cfg, dummy.New(dummy.ServerConfig{Profile: dummy.Fast}), zap.NewNop())
	h.Recorder = store
	var seen []Result
	h.OnRound = func(r Result) { seen = append(seen, r) }

	results, err := h.Run(testCtx(t))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, results, seen)

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Connections)
	assert.Equal(t, "run", records[0].RunID)
	assert.Equal(t, results[0].Received, records[0].Received)
}

func TestSteps(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, Steps, cfg.Steps())
	cfg.Connections = 7
	assert.Equal(t, []int{7}, cfg.Steps())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := roundConfig()
	cfg.CoolDown = time.Minute
	h := NewHarness(cfg, dummy.New(dummy.ServerConfig{}), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := h.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, results, 1)
}
