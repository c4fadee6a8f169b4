// Package metrics exposes live run counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mqttwrk/internal/stats"
)

const namespace = "mqttwrk"

// LatencyBuckets are the upper bounds of the exported latency histogram.
var LatencyBuckets = []time.Duration{
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

// Recorder is a stats.Observer that keeps Prometheus metrics for a run.
type Recorder struct {
	registry *prometheus.Registry

	confirmed   prometheus.Counter
	received    prometheus.Counter
	reconnects  prometheus.Counter
	unsolicited prometheus.Counter
	sessions    *prometheus.CounterVec

	latency     *stats.Histogram
	latencyDesc *prometheus.Desc
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmed_publishes_total",
			Help:      "Publishes confirmed by the broker (or dispatched, for QoS 0).",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_publishes_total",
			Help:      "Publishes received by finished subscriber sessions.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection errors seen by finished sessions.",
		}),
		unsolicited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsolicited_acks_total",
			Help:      "Acks for packet ids with no outstanding publish.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reported their results.",
		}, []string{"role"}),
		latency: stats.NewHistogram(),
		latencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "publish_latency_seconds"),
			"Publish to ack latency of finished publisher sessions.",
			nil, nil,
		),
	}

	r.registry.MustRegister(
		r.confirmed,
		r.received,
		r.reconnects,
		r.unsolicited,
		r.sessions,
		r,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Confirmed(n uint64) {
	r.confirmed.Add(float64(n))
}

func (r *Recorder) SessionFinished(s *stats.SessionStats) {
	r.sessions.WithLabelValues(s.Role.String()).Inc()
	r.reconnects.Add(float64(s.Reconnects))
	r.unsolicited.Add(float64(s.Unsolicited))
	if s.Role == stats.Subscriber {
		r.received.Add(float64(s.PublishCount))
		return
	}
	r.latency.Merge(s.Latency)
}

// Describe implements prometheus.Collector for the latency histogram.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.latencyDesc
}

// Collect turns the merged latency histogram into a Prometheus histogram.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	counts, sum := r.latency.Cumulative(LatencyBuckets)
	buckets := make(map[float64]uint64, len(counts))
	for i, b := range LatencyBuckets {
		buckets[b.Seconds()] = counts[i]
	}
	ch <- prometheus.MustNewConstHistogram(r.latencyDesc, uint64(r.latency.Count()), sum.Seconds(), buckets)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
