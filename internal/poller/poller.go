// Package poller detects new blocks and turns them into ordered block samples.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/blockprobe/internal/rpc"
	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// DefaultInterval is the default poll interval. Sub-block-time so no block
// is missed on chains targeting ~85ms blocks.
const DefaultInterval = 20 * time.Millisecond

// Config holds poller configuration.
type Config struct {
	Client   rpc.Client
	Agg      *stats.Aggregator
	Interval time.Duration
	// Phase reports the current run phase, stamped onto each sample.
	Phase func() types.Phase
	// OnSample is invoked for every recorded sample, in height order.
	OnSample func(stats.BlockUpdate)
	Logger   *slog.Logger
}

// Poller polls eth_blockNumber on a fixed interval and emits one BlockSample
// per newly observed height. It is the single producer of block samples, so
// samples reach the aggregator in strictly increasing height order.
type Poller struct {
	client   rpc.Client
	interval time.Duration
	tracker  *tracker
	logger   *slog.Logger
}

// New creates a poller.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   cfg.Client,
		interval: interval,
		tracker:  newTracker(cfg.Agg, cfg.Phase, cfg.OnSample, logger),
		logger:   logger,
	}
}

// Run polls until the context is cancelled. The initial height fetch is
// fatal (endpoint unreachable at start aborts the run); later poll errors
// are transient and logged at debug level.
func (p *Poller) Run(ctx context.Context) error {
	height, err := p.client.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("initial block number fetch: %w", err)
	}

	// Seed from the full header when available so the starting block is
	// identifiable in the log. Best-effort: the height alone is enough.
	if head, err := p.client.GetBlockByNumber(ctx, height); err == nil && head != nil {
		height = head.Number
		p.logger.Info("block poller started",
			slog.Uint64("height", height),
			slog.String("hash", head.Hash),
			slog.Int("txs", head.TxCount),
			slog.Duration("interval", p.interval),
		)
	} else {
		p.logger.Info("block poller started",
			slog.Uint64("height", height),
			slog.Duration("interval", p.interval),
		)
	}
	p.tracker.prime(height)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		height, err := p.client.GetBlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Debug("poll failed, skipping tick", slog.String("error", err.Error()))
			continue
		}

		p.tracker.observe(height, time.Now())
	}
}

// tracker converts observed chain heights into block samples, interpolating
// across multi-height advances. Shared by the HTTP poller and the WebSocket
// head watcher; only one source runs at a time.
type tracker struct {
	agg      *stats.Aggregator
	phase    func() types.Phase
	onSample func(stats.BlockUpdate)
	logger   *slog.Logger

	lastHeight uint64
	lastSeen   time.Time
	primed     bool
}

func newTracker(agg *stats.Aggregator, phase func() types.Phase, onSample func(stats.BlockUpdate), logger *slog.Logger) *tracker {
	if phase == nil {
		phase = func() types.Phase { return types.PhaseIdle }
	}
	return &tracker{
		agg:      agg,
		phase:    phase,
		onSample: onSample,
		logger:   logger,
	}
}

// prime sets the reference height without emitting a sample. The first
// observed block has no predecessor to measure against.
func (t *tracker) prime(height uint64) {
	t.lastHeight = height
	t.lastSeen = time.Now()
	t.primed = true
}

// observe records all heights between the last seen height and the new one.
// When more than one height advanced between observations, the elapsed time
// is split evenly across the gap and each synthesized sample is flagged
// coalesced so downstream consumers can treat it specially.
func (t *tracker) observe(height uint64, now time.Time) {
	if !t.primed {
		t.prime(height)
		return
	}
	if height <= t.lastHeight {
		return
	}

	advanced := height - t.lastHeight
	elapsed := now.Sub(t.lastSeen)
	if elapsed < 0 {
		elapsed = 0
	}
	perBlock := elapsed / time.Duration(advanced)
	coalesced := advanced > 1
	phase := t.phase()

	for i := uint64(1); i <= advanced; i++ {
		observedAt := t.lastSeen.Add(perBlock * time.Duration(i))
		sample := types.BlockSample{
			Height:     t.lastHeight + i,
			ObservedAt: observedAt,
			DeltaMs:    float64(perBlock) / float64(time.Millisecond),
			Coalesced:  coalesced,
			Phase:      phase,
		}

		update, err := t.agg.RecordBlock(sample)
		if err != nil {
			// Single producer means this should be unreachable.
			t.logger.Warn("dropped block sample", slog.String("error", err.Error()))
			continue
		}
		if t.onSample != nil {
			t.onSample(update)
		}
	}

	t.lastHeight = height
	t.lastSeen = now
}
