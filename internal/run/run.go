// Package run drives a probe run through its phases: baseline monitoring,
// monitoring under load, and the final summary.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/blockprobe/internal/loadgen"
	"github.com/gateway-fm/blockprobe/internal/metrics"
	"github.com/gateway-fm/blockprobe/internal/poller"
	"github.com/gateway-fm/blockprobe/internal/report"
	"github.com/gateway-fm/blockprobe/internal/rpc"
	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// metricsTick is how often run-level gauges and counter deltas are pushed to
// Prometheus. Kept off the request hot path on purpose.
const metricsTick = time.Second

// Config holds everything a run needs. Client, Agg, and Reporter are
// required; Generator and Metrics are optional.
type Config struct {
	Client   rpc.Client
	Agg      *stats.Aggregator
	Reporter *report.Reporter

	// Generator drives synthetic load during the under-load phase. A nil
	// generator turns the run into pure observation.
	Generator *loadgen.Generator
	Metrics   *metrics.ProbeMetrics

	// WSURL switches block detection from HTTP polling to a newHeads
	// subscription when non-empty.
	WSURL        string
	PollInterval time.Duration

	BaselineDuration time.Duration
	LoadDuration     time.Duration

	Logger *slog.Logger
}

// Runner executes one probe run. Phases always advance in order; cancellation
// from any phase jumps straight to Finished and the summary covers whatever
// was observed up to that point.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	phase atomic.Value // types.Phase
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}
	if cfg.BaselineDuration <= 0 || cfg.LoadDuration <= 0 {
		return nil, fmt.Errorf("phase durations must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{cfg: cfg, logger: logger}
	r.phase.Store(types.PhaseIdle)
	return r, nil
}

// Phase returns the current run phase.
func (r *Runner) Phase() types.Phase {
	return r.phase.Load().(types.Phase)
}

func (r *Runner) setPhase(p types.Phase) {
	r.phase.Store(p)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SetPhase(p)
	}
	r.logger.Info("phase transition", slog.String("phase", string(p)))
}

// Run executes the full phase sequence and renders the summary. It returns
// nil on both natural completion and cancellation; the only error is a block
// source that cannot start at all.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	blockCtx, stopBlocks := context.WithCancel(ctx)
	defer stopBlocks()

	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- r.runBlockSource(blockCtx)
	}()

	if r.cfg.Metrics != nil {
		mctx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go r.metricsLoop(mctx)
	}

	// Phase 1: baseline.
	r.setPhase(types.PhaseBaseline)
	r.cfg.Reporter.PhaseBanner(types.PhaseBaseline,
		fmt.Sprintf("Monitoring block times for %.0fs...", r.cfg.BaselineDuration.Seconds()))
	interrupted := !r.wait(ctx, r.cfg.BaselineDuration, sourceErr)

	// Phase 2: under load.
	var loadElapsed time.Duration
	if !interrupted {
		r.setPhase(types.PhaseUnderLoad)
		detail := fmt.Sprintf("Monitoring block times for %.0fs...", r.cfg.LoadDuration.Seconds())
		if r.cfg.Generator != nil {
			detail = fmt.Sprintf("Injecting %.0f req/s for %.0fs...",
				r.cfg.Generator.Rate(), r.cfg.LoadDuration.Seconds())
		}
		r.cfg.Reporter.PhaseBanner(types.PhaseUnderLoad, detail)

		loadStart := time.Now()
		var wg sync.WaitGroup
		var stopLoad context.CancelFunc
		if r.cfg.Generator != nil {
			var loadCtx context.Context
			loadCtx, stopLoad = context.WithCancel(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.cfg.Generator.Run(loadCtx); err != nil {
					r.logger.Warn("load generator error", slog.String("error", err.Error()))
				}
			}()
		}

		r.wait(ctx, r.cfg.LoadDuration, sourceErr)
		if stopLoad != nil {
			stopLoad()
		}
		wg.Wait()
		loadElapsed = time.Since(loadStart)
	}

	// Finished: stop the block source before reading final stats so no
	// sample lands mid-summary.
	stopBlocks()
	select {
	case err := <-sourceErr:
		if err != nil {
			r.setPhase(types.PhaseFinished)
			return fmt.Errorf("block source: %w", err)
		}
	case <-time.After(5 * time.Second):
		r.logger.Warn("block source did not stop in time")
	}

	r.setPhase(types.PhaseFinished)
	r.cfg.Reporter.Summary(
		r.cfg.Agg.BlockStats(),
		r.cfg.Agg.RequestStats(),
		r.cfg.Agg.TxStats(),
		time.Since(start),
		loadElapsed,
	)
	return nil
}

// runBlockSource runs the WebSocket head watcher when configured, the HTTP
// poller otherwise.
func (r *Runner) runBlockSource(ctx context.Context) error {
	pcfg := poller.Config{
		Client:   r.cfg.Client,
		Agg:      r.cfg.Agg,
		Interval: r.cfg.PollInterval,
		Phase:    r.Phase,
		OnSample: r.onSample,
		Logger:   r.logger,
	}
	if r.cfg.WSURL != "" {
		return poller.NewHeadWatcher(r.cfg.WSURL, pcfg).Run(ctx)
	}
	return poller.New(pcfg).Run(ctx)
}

func (r *Runner) onSample(update stats.BlockUpdate) {
	r.cfg.Reporter.Line(update)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ObserveBlock(update)
	}
}

// wait blocks for d, returning false when the context ends or the block
// source dies first.
func (r *Runner) wait(ctx context.Context, d time.Duration, sourceErr chan error) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		r.logger.Info("run interrupted, finishing with partial results")
		return false
	case err := <-sourceErr:
		if err != nil {
			r.logger.Error("block source failed", slog.String("error", err.Error()))
		}
		// Put it back for the final drain in Run.
		sourceErr <- err
		return false
	}
}

// metricsLoop pushes counter deltas and the achieved request rate to
// Prometheus once per tick.
func (r *Runner) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(metricsTick)
	defer ticker.Stop()

	var lastReq stats.RequestStats
	var lastTx stats.TxStats
	lastAt := time.Now()

	if r.cfg.Generator != nil {
		r.cfg.Metrics.TargetRPS.Set(r.cfg.Generator.Rate())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			req := r.cfg.Agg.RequestStats()
			tx := r.cfg.Agg.TxStats()

			okDelta := (req.Total - req.Failed) - (lastReq.Total - lastReq.Failed)
			r.cfg.Metrics.RecordRequests(okDelta, req.Failed-lastReq.Failed)
			r.cfg.Metrics.RecordTxs(tx.Sent-lastTx.Sent, tx.Failed-lastTx.Failed)

			if dt := now.Sub(lastAt).Seconds(); dt > 0 {
				r.cfg.Metrics.CurrentRPS.Set(float64(req.Total-lastReq.Total) / dt)
			}

			lastReq = req
			lastTx = tx
			lastAt = now
		}
	}
}
