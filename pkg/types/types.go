// Package types contains public types for the block-time probe.
// These types form the external interface and must remain backwards-compatible.
package types

import (
	"fmt"
	"time"
)

// Phase represents the stage of a probe run.
// Runs progress Idle -> Baseline -> UnderLoad -> Finished; cancellation from
// any state moves directly to Finished with partial results.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseBaseline  Phase = "baseline"
	PhaseUnderLoad Phase = "under_load"
	PhaseFinished  Phase = "finished"
)

// LoadMode selects the kind of synthetic load injected during the
// under-load phase.
type LoadMode string

const (
	// LoadModeRead issues a rotating mix of read-only JSON-RPC calls.
	LoadModeRead LoadMode = "read"
	// LoadModeTx signs and submits value-transfer transactions.
	LoadModeTx LoadMode = "tx"
)

// Classification is the latency band a block's production time falls into.
type Classification string

const (
	ClassFast     Classification = "FAST"
	ClassOK       Classification = "OK"
	ClassSlow     Classification = "SLOW"
	ClassVerySlow Classification = "VERY_SLOW"
)

// Symbol returns the status marker used in streamed table output.
func (c Classification) Symbol() string {
	switch c {
	case ClassFast:
		return "+ FAST"
	case ClassOK:
		return "~ OK"
	case ClassSlow:
		return "! SLOW"
	default:
		return "x VERY SLOW"
	}
}

// Thresholds holds the block-time classification boundaries in milliseconds.
// Boundaries are inclusive: FAST <= FastMs < OK <= OKMs < SLOW <= SlowMs < VERY_SLOW.
type Thresholds struct {
	FastMs float64 `json:"fastMs"`
	OKMs   float64 `json:"okMs"`
	SlowMs float64 `json:"slowMs"`
}

// DefaultThresholds returns the standard 85/100/150ms bands.
func DefaultThresholds() Thresholds {
	return Thresholds{FastMs: 85, OKMs: 100, SlowMs: 150}
}

// Validate checks that the boundaries are positive and strictly ordered.
func (t Thresholds) Validate() error {
	if t.FastMs <= 0 {
		return fmt.Errorf("fast threshold must be positive")
	}
	if t.OKMs <= t.FastMs {
		return fmt.Errorf("ok threshold must exceed fast threshold")
	}
	if t.SlowMs <= t.OKMs {
		return fmt.Errorf("slow threshold must exceed ok threshold")
	}
	return nil
}

// Classify maps a block time to its latency band.
// Pure function of deltaMs and the three boundaries.
func (t Thresholds) Classify(deltaMs float64) Classification {
	switch {
	case deltaMs <= t.FastMs:
		return ClassFast
	case deltaMs <= t.OKMs:
		return ClassOK
	case deltaMs <= t.SlowMs:
		return ClassSlow
	default:
		return ClassVerySlow
	}
}

// BlockSample records one observed block. Immutable once recorded.
type BlockSample struct {
	Height     uint64    `json:"height"`
	ObservedAt time.Time `json:"observedAt"`
	DeltaMs    float64   `json:"deltaMs"`
	// Coalesced marks samples synthesized when more than one height advanced
	// between two polls; their DeltaMs is interpolated across the gap.
	Coalesced bool  `json:"coalesced,omitempty"`
	Phase     Phase `json:"phase"`
}

// RequestResult records one load-generator request outcome.
// Consumed by the aggregator and then discarded.
type RequestResult struct {
	Method    string
	LatencyMs float64
	Err       error
}

// Success reports whether the request completed without error.
func (r RequestResult) Success() bool {
	return r.Err == nil
}

// LatencyStats summarizes a latency distribution in milliseconds.
type LatencyStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"` // ms
	Max   float64 `json:"max"` // ms
	Avg   float64 `json:"avg"` // ms
	P50   float64 `json:"p50"` // ms
	P90   float64 `json:"p90"` // ms
	P95   float64 `json:"p95"` // ms
	P99   float64 `json:"p99"` // ms
}

// TxErrorKind buckets transaction submission failures for the run summary.
type TxErrorKind string

const (
	TxErrNonce             TxErrorKind = "nonce_mismatch"
	TxErrInsufficientFunds TxErrorKind = "insufficient_funds"
	TxErrUnderpriced       TxErrorKind = "underpriced"
	TxErrOther             TxErrorKind = "other"
)
