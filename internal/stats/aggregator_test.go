package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionWith(role Role, acks int) *SessionStats {
	s := NewSessionStats("s", role)
	for i := 0; i < acks; i++ {
		s.Latency.Record(time.Duration(i+1) * time.Millisecond)
	}
	if role == Publisher {
		s.OutgoingPublish = uint64(acks)
		s.AckCount = uint64(acks)
	} else {
		s.PublishCount = uint64(acks)
	}
	s.Elapsed = time.Second
	return s
}

func TestAggregatorMergesAllSessions(t *testing.T) {
	const n, k = 16, 25
	agg := NewAggregator(AggregatorConfig{Sessions: n})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Report(sessionWith(Publisher, k))
		}()
	}

	r := agg.Run(context.Background())
	wg.Wait()

	assert.Equal(t, n, r.Sessions)
	assert.Equal(t, int64(n*k), r.Latency.Count())
	assert.Equal(t, uint64(n*k), r.OutgoingPublish)
	assert.True(t, r.Complete())
}

func TestAggregatorSplitsRoles(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 2})
	agg.Report(sessionWith(Publisher, 10))
	agg.Report(sessionWith(Subscriber, 10))

	r := agg.Run(context.Background())
	assert.Equal(t, 1, r.Publishers)
	assert.Equal(t, 1, r.Subscribers)
	assert.Equal(t, uint64(10), r.PublishCount)
	assert.Equal(t, int64(10), r.Latency.Count())
	assert.Equal(t, int64(10), r.Arrival.Count())
}

func TestAggregatorStopsOnMessageCount(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 4, Messages: 100})

	go func() {
		for i := 0; i < 100; i++ {
			agg.Progress(1)
		}
	}()

	done := make(chan *Report, 1)
	go func() { done <- agg.Run(context.Background()) }()

	select {
	case r := <-done:
		assert.Equal(t, uint64(100), r.Confirmed)
		assert.Equal(t, 0, r.Sessions)
		assert.False(t, r.Complete())
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator did not stop on message criterion")
	}
}

func TestAggregatorWithdrawnSessionsCount(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 3})
	agg.Report(sessionWith(Publisher, 5))
	agg.Withdraw()
	agg.Withdraw()

	r := agg.Run(context.Background())
	assert.Equal(t, 1, r.Sessions)
	assert.Equal(t, 2, r.Withdrawn)
}

func TestAggregatorCancelledKeepsQueuedResults(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 5})
	agg.Report(sessionWith(Publisher, 3))
	agg.Report(sessionWith(Publisher, 3))
	agg.Progress(6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := agg.Run(ctx)
	assert.Equal(t, 2, r.Sessions)
	assert.Equal(t, uint64(6), r.Confirmed)
	assert.Equal(t, int64(6), r.Latency.Count())
}

func TestAggregatorProgressNeverBlocks(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			agg.Progress(1)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("progress blocked without a reader")
	}

	agg.Report(sessionWith(Publisher, 1))
	r := agg.Run(context.Background())
	assert.Equal(t, uint64(10000), r.Confirmed)
}

type recorder struct {
	mu        sync.Mutex
	confirmed uint64
	finished  int
}

func (r *recorder) Confirmed(n uint64) {
	r.mu.Lock()
	r.confirmed += n
	r.mu.Unlock()
}

func (r *recorder) SessionFinished(*SessionStats) {
	r.mu.Lock()
	r.finished++
	r.mu.Unlock()
}

func TestAggregatorSnapshotsAndObserver(t *testing.T) {
	updates := make(UpdateChan, 64)
	obs := &recorder{}
	agg := NewAggregator(AggregatorConfig{
		Sessions: 1,
		Messages: 1000,
		Interval: 5 * time.Millisecond,
		Updates:  updates,
		Observer: obs,
	})

	go func() {
		agg.Progress(10)
		time.Sleep(30 * time.Millisecond)
		agg.Report(sessionWith(Publisher, 10))
	}()

	r := agg.Run(context.Background())
	require.Equal(t, 1, r.Sessions)

	var last Snapshot
	n := len(updates)
	require.Greater(t, n, 0)
	for i := 0; i < n; i++ {
		last = <-updates
	}
	assert.True(t, last.Done)
	assert.Equal(t, uint64(10), last.Confirmed)
	assert.Equal(t, uint64(1000), last.ExpectedMessages)

	assert.Equal(t, uint64(10), obs.confirmed)
	assert.Equal(t, 1, obs.finished)
}

func TestSessionThroughput(t *testing.T) {
	s := sessionWith(Publisher, 500)
	s.Elapsed = 250 * time.Millisecond
	assert.InDelta(t, 2000.0, s.Throughput(), 0.001)

	empty := NewSessionStats("idle", Subscriber)
	assert.Zero(t, empty.Throughput())
}

func TestAggregatorSessionsOnlyIgnoresMessageCount(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Sessions: 1, Messages: 5, Until: UntilSessions, KeepSessions: true})
	agg.Progress(50)

	go func() {
		time.Sleep(20 * time.Millisecond)
		agg.Report(sessionWith(Publisher, 5))
	}()

	r := agg.Run(context.Background())
	assert.Equal(t, 1, r.Sessions)
	require.Len(t, r.PerSession, 1)
	assert.Equal(t, uint64(50), r.Confirmed)
}
