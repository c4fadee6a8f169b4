package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mqttwrk/internal/round"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/storage"
)

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[----]", progressBar(0, 4))
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(1.5, 4))
	assert.Equal(t, "[----]", progressBar(-1, 4))
}

func TestMonitorStopsOnFinalSnapshot(t *testing.T) {
	updates := make(stats.UpdateChan, 2)
	updates <- stats.Snapshot{Confirmed: 5, ExpectedMessages: 10, Elapsed: time.Second}
	updates <- stats.Snapshot{Confirmed: 10, ExpectedMessages: 10, Elapsed: 2 * time.Second, Done: true}

	var out bytes.Buffer
	Monitor(context.Background(), &out, updates, nil)
	assert.Contains(t, out.String(), "100% | 2s | Confirmed: 10/10")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestMonitorStopsOnDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	var out bytes.Buffer
	Monitor(context.Background(), &out, make(stats.UpdateChan), done)
	assert.Empty(t, out.String())
}

func TestPrintReportDeltas(t *testing.T) {
	cfg := &runner.Config{Publishers: 2, Subscribers: 1, Count: 10}
	r := &stats.Report{
		ExpectedSessions: 3,
		Sessions:         3,
		Publishers:       2,
		Subscribers:      1,
		OutgoingPublish:  18,
		PublishCount:     20,
		Reconnects:       1,
		Latency:          stats.NewHistogram(),
		Arrival:          stats.NewHistogram(),
		Elapsed:          time.Second,
	}
	r.Latency.Record(time.Millisecond)

	var out bytes.Buffer
	PrintReport(&out, r, cfg)
	s := out.String()
	assert.Contains(t, s, "Outgoing Publish : 18/20")
	assert.Contains(t, s, "Incoming Publish : 20/20")
	assert.Contains(t, s, "2 publishes not confirmed")
	assert.NotContains(t, s, "not received")
	assert.Contains(t, s, "PUBLISH LATENCY")
	assert.NotContains(t, s, "INTER-ARRIVAL")
}

func TestPrintSessionsFiltersRole(t *testing.T) {
	pub := stats.NewSessionStats("pub-00000", stats.Publisher)
	pub.OutgoingPublish = 10
	pub.Elapsed = time.Second
	sub := stats.NewSessionStats("sub-00000", stats.Subscriber)

	var out bytes.Buffer
	PrintSessions(&out, []*stats.SessionStats{pub, sub}, stats.Publisher)
	assert.Contains(t, out.String(), "pub-00000")
	assert.NotContains(t, out.String(), "sub-00000")
}

func TestPrintRounds(t *testing.T) {
	var out bytes.Buffer
	PrintRound(&out, round.Result{Round: 1, Connections: 2, Throughput: 100, PerConnection: 50, Failed: 1})
	assert.Contains(t, out.String(), "1 failed")

	out.Reset()
	PrintRounds(&out, []storage.Record{{Seq: 1, Connections: 5, Received: 42, Elapsed: time.Second}})
	assert.Contains(t, out.String(), "connections")
	assert.Contains(t, out.String(), "42")
}
