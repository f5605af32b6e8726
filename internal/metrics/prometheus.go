// Package metrics exposes Prometheus instrumentation for the probe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// ProbeMetrics holds all Prometheus metrics for the probe.
type ProbeMetrics struct {
	// Block observation
	BlockTime      prometheus.Histogram
	BlocksTotal    *prometheus.CounterVec
	CoalescedTotal prometheus.Counter

	// Load generation
	RequestsTotal *prometheus.CounterVec
	TxTotal       *prometheus.CounterVec

	// Gauges
	CurrentRPS prometheus.Gauge
	TargetRPS  prometheus.Gauge
	Phase      *prometheus.GaugeVec
}

// NewProbeMetrics creates and registers all probe metrics.
func NewProbeMetrics(reg prometheus.Registerer) *ProbeMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &ProbeMetrics{
		BlockTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockprobe_block_time_seconds",
				Help:    "Observed inter-block time",
				Buckets: []float64{0.025, 0.05, 0.085, 0.1, 0.15, 0.25, 0.5, 1, 2, 5},
			},
		),

		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockprobe_blocks_total",
				Help: "Observed blocks by phase and latency class",
			},
			[]string{"phase", "class"},
		),

		CoalescedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockprobe_coalesced_samples_total",
				Help: "Block samples synthesized across multi-height poll gaps",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockprobe_load_requests_total",
				Help: "Load-generator requests by outcome",
			},
			[]string{"outcome"},
		),

		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockprobe_transactions_total",
				Help: "Submitted transactions by status",
			},
			[]string{"status"},
		),

		CurrentRPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockprobe_current_rps",
				Help: "Achieved load-generator requests per second",
			},
		),

		TargetRPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockprobe_target_rps",
				Help: "Configured load-generator requests per second",
			},
		),

		Phase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockprobe_phase",
				Help: "Current run phase (1 if active, 0 otherwise)",
			},
			[]string{"phase"},
		),
	}
}

// ObserveBlock records one block sample.
func (m *ProbeMetrics) ObserveBlock(update stats.BlockUpdate) {
	m.BlockTime.Observe(update.Sample.DeltaMs / 1000)
	m.BlocksTotal.WithLabelValues(string(update.Sample.Phase), string(update.Class)).Inc()
	if update.Sample.Coalesced {
		m.CoalescedTotal.Inc()
	}
}

// SetPhase marks phase as active and every other phase inactive.
func (m *ProbeMetrics) SetPhase(phase types.Phase) {
	for _, p := range []types.Phase{types.PhaseIdle, types.PhaseBaseline, types.PhaseUnderLoad, types.PhaseFinished} {
		val := 0.0
		if p == phase {
			val = 1.0
		}
		m.Phase.WithLabelValues(string(p)).Set(val)
	}
}

// RecordRequests adds request deltas since the last reporting tick.
func (m *ProbeMetrics) RecordRequests(okDelta, failedDelta int64) {
	if okDelta > 0 {
		m.RequestsTotal.WithLabelValues("ok").Add(float64(okDelta))
	}
	if failedDelta > 0 {
		m.RequestsTotal.WithLabelValues("failed").Add(float64(failedDelta))
	}
}

// RecordTxs adds transaction deltas since the last reporting tick.
func (m *ProbeMetrics) RecordTxs(sentDelta, failedDelta int64) {
	if sentDelta > 0 {
		m.TxTotal.WithLabelValues("sent").Add(float64(sentDelta))
	}
	if failedDelta > 0 {
		m.TxTotal.WithLabelValues("failed").Add(float64(failedDelta))
	}
}
