package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func filled(values ...time.Duration) *Histogram {
	h := NewHistogram()
	for _, v := range values {
		h.Record(v)
	}
	return h
}

func TestHistogramMergeOrderIndependent(t *testing.T) {
	a := filled(1*time.Millisecond, 2*time.Millisecond, 40*time.Millisecond)
	b := filled(500*time.Microsecond, 3*time.Millisecond)
	c := filled(7*time.Millisecond, 7*time.Millisecond, 900*time.Millisecond, 10*time.Microsecond)

	abc := NewHistogram()
	abc.Merge(a)
	abc.Merge(b)
	abc.Merge(c)

	cba := NewHistogram()
	bc := NewHistogram()
	bc.Merge(c)
	bc.Merge(b)
	cba.Merge(bc)
	cba.Merge(a)

	assert.Equal(t, abc.Percentiles(), cba.Percentiles())
	assert.Equal(t, int64(9), abc.Count())
}

func TestHistogramResolution(t *testing.T) {
	h := filled(12345 * time.Microsecond)
	assert.Equal(t, 12345*time.Microsecond, h.Max())
}

func TestHistogramClamp(t *testing.T) {
	h := filled(0, 2*time.Hour)
	assert.Equal(t, int64(2), h.Count())
	assert.LessOrEqual(t, h.Max(), time.Minute+time.Minute/100)
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram()
	for i := 1; i <= 1000; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}
	p := h.Percentiles()
	assert.Equal(t, int64(1000), p.Count)
	assert.InDelta(t, float64(500*time.Millisecond), float64(p.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(900*time.Millisecond), float64(p.P90), float64(time.Millisecond))
	assert.InDelta(t, float64(time.Second), float64(p.Max), float64(time.Millisecond))
}

func TestHistogramSelfMerge(t *testing.T) {
	h := filled(time.Millisecond)
	h.Merge(h)
	h.Merge(nil)
	assert.Equal(t, int64(1), h.Count())
}

func TestHistogramCumulative(t *testing.T) {
	h := NewHistogram()
	for _, us := range []int64{50, 50, 500, 5000} {
		h.RecordValue(us)
	}

	counts, sum := h.Cumulative([]time.Duration{100 * time.Microsecond, time.Millisecond, time.Second})
	assert.Equal(t, []uint64{2, 3, 4}, counts)
	assert.InDelta(t, float64(5600*time.Microsecond), float64(sum), float64(10*time.Microsecond))
}
