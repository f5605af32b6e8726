package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencyHistogram is a thread-safe HDR histogram of request latencies.
// Values are recorded in microseconds for precision and reported in
// milliseconds.
type LatencyHistogram struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewLatencyHistogram creates a histogram covering 1us to 1min at 3
// significant figures.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		hist: hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3),
	}
}

// RecordMs records a latency in milliseconds.
func (h *LatencyHistogram) RecordMs(latencyMs float64) {
	us := int64(latencyMs * 1000)
	if us < 1 {
		us = 1
	}
	h.mu.Lock()
	_ = h.hist.RecordValue(us)
	h.mu.Unlock()
}

// QuantileMs returns the latency at quantile q (0-100) in milliseconds.
func (h *LatencyHistogram) QuantileMs(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.ValueAtQuantile(q)) / 1000
}

// MeanMs returns the mean latency in milliseconds.
func (h *LatencyHistogram) MeanMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean() / 1000
}

// MinMs returns the minimum recorded latency in milliseconds.
func (h *LatencyHistogram) MinMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.Min()) / 1000
}

// MaxMs returns the maximum recorded latency in milliseconds.
func (h *LatencyHistogram) MaxMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.Max()) / 1000
}

// TotalCount returns the number of recorded values.
func (h *LatencyHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
