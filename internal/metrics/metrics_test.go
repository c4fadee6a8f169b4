package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttwrk/internal/stats"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.Confirmed(10)
	r.Confirmed(5)

	pub := stats.NewSessionStats("pub", stats.Publisher)
	pub.Reconnects = 1
	pub.Unsolicited = 2
	pub.Latency.Record(200 * time.Microsecond)
	pub.Latency.Record(3 * time.Millisecond)
	r.SessionFinished(pub)

	sub := stats.NewSessionStats("sub", stats.Subscriber)
	sub.PublishCount = 15
	sub.Latency.Record(time.Second)
	r.SessionFinished(sub)

	body := scrape(t, r)
	for _, line := range []string{
		"mqttwrk_confirmed_publishes_total 15",
		"mqttwrk_received_publishes_total 15",
		"mqttwrk_reconnects_total 1",
		"mqttwrk_unsolicited_acks_total 2",
		`mqttwrk_sessions_finished_total{role="publisher"} 1`,
		`mqttwrk_sessions_finished_total{role="subscriber"} 1`,
		// subscriber gaps are not publish latency
		"mqttwrk_publish_latency_seconds_count 2",
	} {
		assert.Contains(t, body, line)
	}
}

func TestRecorderLatencyBuckets(t *testing.T) {
	r := New()
	p := stats.NewSessionStats("pub", stats.Publisher)
	p.Latency.Record(200 * time.Microsecond)
	p.Latency.Record(20 * time.Millisecond)
	r.SessionFinished(p)

	body := scrape(t, r)
	assert.Contains(t, body, `mqttwrk_publish_latency_seconds_bucket{le="0.0001"} 0`)
	assert.Contains(t, body, `mqttwrk_publish_latency_seconds_bucket{le="0.00025"} 1`)
	assert.Contains(t, body, `mqttwrk_publish_latency_seconds_bucket{le="0.025"} 2`)
	assert.Contains(t, body, `mqttwrk_publish_latency_seconds_bucket{le="+Inf"} 2`)
}
