package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minValue = 1
	maxValue = int64(time.Minute / time.Microsecond)
	sigFigs  = 4
)

// Histogram is a thread-safe latency histogram with microsecond resolution.
type Histogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewHistogram() *Histogram {
	// 1us to 1min, 4 significant figures
	return &Histogram{hist: hdrhistogram.New(minValue, maxValue, sigFigs)}
}

// Record adds one latency sample. Out of range values are clamped.
func (h *Histogram) Record(d time.Duration) {
	h.RecordValue(d.Microseconds())
}

// RecordValue records a latency in microseconds
func (h *Histogram) RecordValue(v int64) {
	if v < minValue {
		v = minValue
	}
	if v > maxValue {
		v = maxValue
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.hist.RecordValue(v)
}

// Merge adds every sample of o into h.
func (h *Histogram) Merge(o *Histogram) {
	if o == nil || o == h {
		return
	}
	o.mu.Lock()
	snap := hdrhistogram.Import(o.hist.Export())
	o.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.hist.Merge(snap)
}

// Quantile returns the value at percentile q (0..100).
func (h *Histogram) Quantile(q float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (h *Histogram) Max() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Max()) * time.Microsecond
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Percentiles is the fixed set of quantiles printed in reports.
type Percentiles struct {
	P50    time.Duration
	P90    time.Duration
	P9999  time.Duration
	P99999 time.Duration
	Max    time.Duration
	Count  int64
}

func (h *Histogram) Percentiles() Percentiles {
	h.mu.Lock()
	defer h.mu.Unlock()
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Percentiles{
		P50:    us(h.hist.ValueAtQuantile(50)),
		P90:    us(h.hist.ValueAtQuantile(90)),
		P9999:  us(h.hist.ValueAtQuantile(99.99)),
		P99999: us(h.hist.ValueAtQuantile(99.999)),
		Max:    us(h.hist.Max()),
		Count:  h.hist.TotalCount(),
	}
}

// Cumulative returns, for each upper bound, the number of samples at or below
// it, plus the sum of all samples. Bounds must be ascending.
func (h *Histogram) Cumulative(bounds []time.Duration) ([]uint64, time.Duration) {
	h.mu.Lock()
	bars := h.hist.Distribution()
	sum := time.Duration(h.hist.Mean()*float64(h.hist.TotalCount())) * time.Microsecond
	h.mu.Unlock()

	counts := make([]uint64, len(bounds))
	for _, bar := range bars {
		if bar.Count == 0 {
			continue
		}
		for i := len(bounds) - 1; i >= 0 && bar.From <= bounds[i].Microseconds(); i-- {
			counts[i] += uint64(bar.Count)
		}
	}
	return counts, sum
}
