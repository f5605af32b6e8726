// Package stats maintains rolling and cumulative statistics over observed
// block times and load-generator request outcomes.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/blockprobe/pkg/types"
)

// RollingWindow is the number of recent samples in the rolling average.
const RollingWindow = 10

// BlockUpdate is returned for each recorded block so the reporter can render
// one line without re-reading aggregate state.
type BlockUpdate struct {
	Sample        types.BlockSample
	RollingAvgMs  float64
	CumulativeAvg float64
	Class         types.Classification
}

// BlockStats is a point-in-time summary of all recorded block samples.
type BlockStats struct {
	Count      int
	Coalesced  int
	MinMs      float64
	MaxMs      float64
	AvgMs      float64
	StdDevMs   float64
	P50        float64
	P90        float64
	P95        float64
	P99        float64
	ClassCount map[types.Classification]int
	// PassRate is the fraction of blocks at or under the FAST threshold.
	PassRate float64
}

// RequestStats summarizes load-generator request outcomes.
type RequestStats struct {
	Total   int64
	Failed  int64
	Latency *types.LatencyStats
}

// TxStats summarizes transaction submission outcomes.
type TxStats struct {
	Sent   int64
	Failed int64
	Errors map[types.TxErrorKind]int64
}

// Aggregator is the single sink for block samples and request results.
// The block poller and load-generator workers record concurrently; reads for
// reporting take a snapshot under the same lock so writers are never blocked
// for longer than a copy.
type Aggregator struct {
	thresholds types.Thresholds

	mu         sync.Mutex
	samples    []types.BlockSample
	sumMs      float64
	coalesced  int
	classCount map[types.Classification]int

	// Request-side state. Counters are atomic, the histogram locks itself,
	// so the hot load-generator path never touches a.mu.
	reqTotal   Counter
	reqFailed  Counter
	reqLatency *LatencyHistogram

	txSent   Counter
	txFailed Counter

	txErrMu     sync.Mutex
	txErrByKind map[types.TxErrorKind]int64
}

// NewAggregator creates an aggregator with the given classification thresholds.
func NewAggregator(thresholds types.Thresholds) *Aggregator {
	return &Aggregator{
		thresholds:  thresholds,
		classCount:  make(map[types.Classification]int),
		reqLatency:  NewLatencyHistogram(),
		txErrByKind: make(map[types.TxErrorKind]int64),
	}
}

// Thresholds returns the configured classification thresholds.
func (a *Aggregator) Thresholds() types.Thresholds {
	return a.thresholds
}

// RecordBlock appends a block sample and returns the per-block update for
// reporting. Heights must be strictly increasing and deltas non-negative;
// violations indicate a poller bug and are rejected.
func (a *Aggregator) RecordBlock(sample types.BlockSample) (BlockUpdate, error) {
	if sample.DeltaMs < 0 {
		return BlockUpdate{}, fmt.Errorf("negative block delta %.1fms at height %d", sample.DeltaMs, sample.Height)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.samples); n > 0 && sample.Height <= a.samples[n-1].Height {
		return BlockUpdate{}, fmt.Errorf("non-increasing height %d after %d", sample.Height, a.samples[n-1].Height)
	}

	a.samples = append(a.samples, sample)
	a.sumMs += sample.DeltaMs
	if sample.Coalesced {
		a.coalesced++
	}

	class := a.thresholds.Classify(sample.DeltaMs)
	a.classCount[class]++

	return BlockUpdate{
		Sample:        sample,
		RollingAvgMs:  a.rollingAvgLocked(),
		CumulativeAvg: a.sumMs / float64(len(a.samples)),
		Class:         class,
	}, nil
}

// rollingAvgLocked averages the last RollingWindow samples, or all samples
// when fewer have been recorded.
func (a *Aggregator) rollingAvgLocked() float64 {
	n := len(a.samples)
	if n == 0 {
		return 0
	}
	start := n - RollingWindow
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, s := range a.samples[start:] {
		sum += s.DeltaMs
	}
	return sum / float64(n-start)
}

// BlockCount returns the number of recorded block samples.
func (a *Aggregator) BlockCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Samples returns a copy of the recorded block samples in height order.
func (a *Aggregator) Samples() []types.BlockSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.BlockSample, len(a.samples))
	copy(out, a.samples)
	return out
}

// BlockStats computes the cumulative block-time summary. Percentiles use
// linear interpolation over the full sample set.
func (a *Aggregator) BlockStats() BlockStats {
	a.mu.Lock()
	deltas := make([]float64, len(a.samples))
	for i, s := range a.samples {
		deltas[i] = s.DeltaMs
	}
	sum := a.sumMs
	coalesced := a.coalesced
	classCount := make(map[types.Classification]int, len(a.classCount))
	for k, v := range a.classCount {
		classCount[k] = v
	}
	a.mu.Unlock()

	st := BlockStats{
		Count:      len(deltas),
		Coalesced:  coalesced,
		ClassCount: classCount,
	}
	if st.Count == 0 {
		return st
	}

	sort.Float64s(deltas)
	st.MinMs = deltas[0]
	st.MaxMs = deltas[len(deltas)-1]
	st.AvgMs = sum / float64(st.Count)
	st.P50 = percentile(deltas, 0.50)
	st.P90 = percentile(deltas, 0.90)
	st.P95 = percentile(deltas, 0.95)
	st.P99 = percentile(deltas, 0.99)

	var sq float64
	for _, d := range deltas {
		diff := d - st.AvgMs
		sq += diff * diff
	}
	if st.Count > 1 {
		st.StdDevMs = math.Sqrt(sq / float64(st.Count-1))
	}

	under := 0
	for _, d := range deltas {
		if d <= a.thresholds.FastMs {
			under++
		}
	}
	st.PassRate = float64(under) / float64(st.Count)

	return st
}

// percentile calculates the p-th percentile from a sorted slice using
// linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// RecordRequest records one load-generator request outcome.
func (a *Aggregator) RecordRequest(res types.RequestResult) {
	a.reqTotal.Inc()
	if !res.Success() {
		a.reqFailed.Inc()
		return
	}
	a.reqLatency.RecordMs(res.LatencyMs)
}

// RecordTxSent records a successful transaction submission.
func (a *Aggregator) RecordTxSent() {
	a.txSent.Inc()
}

// RecordTxError records a failed transaction submission by error kind.
func (a *Aggregator) RecordTxError(kind types.TxErrorKind) {
	a.txFailed.Inc()
	a.txErrMu.Lock()
	a.txErrByKind[kind]++
	a.txErrMu.Unlock()
}

// RequestStats returns the request-side summary. Latency is nil when no
// successful request has been recorded.
func (a *Aggregator) RequestStats() RequestStats {
	st := RequestStats{
		Total:  a.reqTotal.Load(),
		Failed: a.reqFailed.Load(),
	}
	if count := a.reqLatency.TotalCount(); count > 0 {
		st.Latency = &types.LatencyStats{
			Count: count,
			Min:   a.reqLatency.MinMs(),
			Max:   a.reqLatency.MaxMs(),
			Avg:   a.reqLatency.MeanMs(),
			P50:   a.reqLatency.QuantileMs(50),
			P90:   a.reqLatency.QuantileMs(90),
			P95:   a.reqLatency.QuantileMs(95),
			P99:   a.reqLatency.QuantileMs(99),
		}
	}
	return st
}

// TxStats returns the transaction-side summary.
func (a *Aggregator) TxStats() TxStats {
	a.txErrMu.Lock()
	errs := make(map[types.TxErrorKind]int64, len(a.txErrByKind))
	for k, v := range a.txErrByKind {
		errs[k] = v
	}
	a.txErrMu.Unlock()

	return TxStats{
		Sent:   a.txSent.Load(),
		Failed: a.txFailed.Load(),
		Errors: errs,
	}
}
