// Package loadgen sustains a target rate of synthetic RPC load against the
// probed node.
package loadgen

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gateway-fm/blockprobe/internal/account"
	"github.com/gateway-fm/blockprobe/internal/ratelimit"
	"github.com/gateway-fm/blockprobe/internal/rpc"
	"github.com/gateway-fm/blockprobe/internal/sender"
	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/internal/txbuilder"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 64

// readCall is one entry in the read-only method mix.
type readCall struct {
	method string
	params []any
}

// readMethodMix is the rotating set of read-only calls issued in read mode.
// Mirrors the query mix real dashboards and indexers put on a node.
var readMethodMix = []readCall{
	{"eth_blockNumber", nil},
	{"eth_gasPrice", nil},
	{"net_version", nil},
	{"eth_chainId", nil},
	{"eth_syncing", nil},
	{"eth_getBalance", []any{"0x0000000000000000000000000000000000000000", "latest"}},
}

// Config holds load generator configuration.
type Config struct {
	Client  rpc.Client
	Agg     *stats.Aggregator
	Mode    types.LoadMode
	Rate    float64 // target requests per second across all workers
	Workers int
	Logger  *slog.Logger

	// Transaction mode only.
	Accounts []*account.Account
	ChainID  *big.Int
	GasPrice *big.Int
	// Recipient for value transfers; zero address when unset.
	Builder *txbuilder.TransferBuilder
	Sender  *sender.Sender
}

// Generator drives a pool of workers that share one strict rate limiter, so
// the aggregate request rate tracks the target regardless of pool size.
// Individual request failures are counted, never propagated; the generator
// stops only on cancellation.
type Generator struct {
	client  rpc.Client
	agg     *stats.Aggregator
	mode    types.LoadMode
	limiter *ratelimit.Limiter
	workers int
	logger  *slog.Logger

	accounts []*account.Account
	chainID  *big.Int
	gasPrice *big.Int
	builder  *txbuilder.TransferBuilder
	snd      *sender.Sender

	acctIdx stats.Counter
}

// New creates a generator. Transaction mode requires accounts, a chain ID,
// a gas price, a builder, and a sender.
func New(cfg Config) (*Generator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("rate must be positive")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		client:   cfg.Client,
		agg:      cfg.Agg,
		mode:     cfg.Mode,
		limiter:  ratelimit.New(cfg.Rate),
		workers:  workers,
		logger:   logger,
		accounts: cfg.Accounts,
		chainID:  cfg.ChainID,
		gasPrice: cfg.GasPrice,
		builder:  cfg.Builder,
		snd:      cfg.Sender,
	}

	if g.mode == types.LoadModeTx {
		if len(g.accounts) == 0 {
			return nil, fmt.Errorf("transaction mode requires at least one funded account")
		}
		if g.chainID == nil || g.gasPrice == nil {
			return nil, fmt.Errorf("transaction mode requires chain ID and gas price")
		}
		if g.builder == nil || g.snd == nil {
			return nil, fmt.Errorf("transaction mode requires a tx builder and sender")
		}
	}

	return g, nil
}

// SetRate updates the aggregate target rate.
func (g *Generator) SetRate(ratePerSec float64) {
	g.limiter.SetRate(ratePerSec)
}

// Rate returns the current aggregate target rate.
func (g *Generator) Rate() float64 {
	return g.limiter.Rate()
}

// Run starts the worker pool and blocks until the context is cancelled and
// every worker has flushed its last result to the aggregator.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("load generator starting",
		slog.String("mode", string(g.mode)),
		slog.Float64("rate", g.limiter.Rate()),
		slog.Int("workers", g.workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < g.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if g.mode == types.LoadModeTx {
				g.txWorker(ctx)
			} else {
				g.readWorker(ctx, id)
			}
		}(i)
	}

	wg.Wait()
	g.logger.Info("load generator stopped",
		slog.Int64("requests", g.agg.RequestStats().Total),
	)
	return nil
}

// readWorker issues read-only calls from the method mix. Workers start at
// different offsets so the aggregate traffic cycles through the whole mix.
func (g *Generator) readWorker(ctx context.Context, id int) {
	idx := id
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}

		call := readMethodMix[idx%len(readMethodMix)]
		idx++

		start := time.Now()
		_, err := g.client.Call(ctx, call.method, call.params)
		latency := time.Since(start)

		// A call cut short by cancellation is not a node failure.
		if ctx.Err() != nil {
			return
		}

		g.agg.RecordRequest(types.RequestResult{
			Method:    call.method,
			LatencyMs: float64(latency) / float64(time.Millisecond),
			Err:       err,
		})
	}
}

// txWorker signs and submits value transfers round-robin across accounts.
// Nonces are incremented optimistically and resynchronized from the node on
// mismatch errors.
func (g *Generator) txWorker(ctx context.Context) {
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}

		acc := g.accounts[int(g.acctIdx.Inc())%len(g.accounts)]
		if err := g.sendTransfer(ctx, acc); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Already counted; backpressure is the only error that reaches
			// here without a recorded result.
			if err == sender.ErrAtCapacity {
				continue
			}
		}
	}
}

func (g *Generator) sendTransfer(ctx context.Context, acc *account.Account) error {
	n := acc.ReserveNonce()

	raw, err := g.builder.BuildSigned(txbuilder.TxParams{
		ChainID:  g.chainID,
		Nonce:    n.Value(),
		GasPrice: g.gasPrice,
	}, acc.PrivateKey)
	if err != nil {
		n.Rollback()
		g.agg.RecordTxError(types.TxErrOther)
		return err
	}

	start := time.Now()
	err = g.snd.TrySend(ctx, raw, func(sendErr error) {
		latency := float64(time.Since(start)) / float64(time.Millisecond)
		if sendErr == nil {
			g.agg.RecordTxSent()
			g.agg.RecordRequest(types.RequestResult{
				Method:    "eth_sendRawTransaction",
				LatencyMs: latency,
			})
			return
		}
		if ctx.Err() != nil {
			return
		}

		kind := ClassifyTxError(sendErr)
		g.agg.RecordTxError(kind)
		g.agg.RecordRequest(types.RequestResult{
			Method:    "eth_sendRawTransaction",
			LatencyMs: latency,
			Err:       sendErr,
		})

		// Nonce drift: reconcile from confirmed chain state before this
		// account is used again.
		if kind == types.TxErrNonce {
			if resyncErr := acc.ResyncFromChain(ctx, g.client); resyncErr != nil {
				g.logger.Debug("nonce resync failed",
					slog.String("address", acc.Address.Hex()[:10]),
					slog.String("error", resyncErr.Error()),
				)
			}
		}
	})
	if err != nil {
		// Queue full: roll the nonce back and let the limiter pace us.
		n.Rollback()
		return err
	}

	n.Commit()
	return nil
}
