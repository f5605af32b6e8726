// Command blockprobe measures block production times on an EVM chain,
// optionally while injecting synthetic RPC or transaction load, and prints
// a streamed block table plus a final statistics summary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/blockprobe/internal/account"
	"github.com/gateway-fm/blockprobe/internal/config"
	"github.com/gateway-fm/blockprobe/internal/loadgen"
	"github.com/gateway-fm/blockprobe/internal/metrics"
	"github.com/gateway-fm/blockprobe/internal/report"
	"github.com/gateway-fm/blockprobe/internal/rpc"
	"github.com/gateway-fm/blockprobe/internal/run"
	"github.com/gateway-fm/blockprobe/internal/sender"
	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/internal/txbuilder"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// The block table streams on stdout; logs go to stderr so piping the
	// table stays clean.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runProbe(ctx, cfg, logger); err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

func runProbe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURL))

	// Startup connectivity check. An unreachable endpoint is fatal before
	// any phase starts.
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	height, err := client.GetBlockNumber(checkCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("endpoint %s unreachable: %w", cfg.RPCURL, err)
	}
	logger.Info("connected", "url", cfg.RPCURL, "height", height)

	agg := stats.NewAggregator(cfg.Thresholds)
	reporter := report.New(os.Stdout, cfg.Thresholds)

	var probeMetrics *metrics.ProbeMetrics
	if cfg.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		probeMetrics = metrics.NewProbeMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		go func() {
			logger.Info("metrics listening", "addr", cfg.ListenAddr)
			if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	gen, err := buildGenerator(ctx, cfg, client, agg, logger)
	if err != nil {
		return err
	}

	runner, err := run.New(run.Config{
		Client:           client,
		Agg:              agg,
		Reporter:         reporter,
		Generator:        gen,
		Metrics:          probeMetrics,
		WSURL:            cfg.WSURL,
		PollInterval:     cfg.PollInterval,
		BaselineDuration: cfg.BaselineDuration,
		LoadDuration:     cfg.LoadDuration,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	return runner.Run(ctx)
}

// buildGenerator wires the load generator for the configured mode, including
// account setup for transaction mode.
func buildGenerator(ctx context.Context, cfg *config.Config, client rpc.Client, agg *stats.Aggregator, logger *slog.Logger) (*loadgen.Generator, error) {
	gencfg := loadgen.Config{
		Client:  client,
		Agg:     agg,
		Mode:    cfg.Mode,
		Rate:    cfg.Rate,
		Workers: cfg.Workers,
		Logger:  logger,
	}

	if cfg.Mode == types.LoadModeTx {
		chainID, gasPrice, err := resolveChainParams(ctx, cfg, client)
		if err != nil {
			return nil, err
		}
		logger.Info("chain parameters resolved",
			"chain_id", chainID.String(),
			"gas_price_wei", gasPrice.String(),
		)

		mgr, err := account.NewManager(cfg.AccountKeys, cfg.FunderKey, chainID, gasPrice, logger)
		if err != nil {
			return nil, err
		}

		if len(cfg.AccountKeys) == 0 {
			fundWei, ok := new(big.Int).SetString(cfg.FundWei, 10)
			if !ok {
				return nil, fmt.Errorf("invalid fund-wei value: %s", cfg.FundWei)
			}
			if err := mgr.GenerateAccounts(cfg.NumAccounts); err != nil {
				return nil, err
			}
			if err := mgr.FundAccounts(ctx, client, fundWei); err != nil {
				return nil, fmt.Errorf("fund accounts: %w", err)
			}
		}
		if err := mgr.InitializeNonces(ctx, client); err != nil {
			return nil, fmt.Errorf("initialize nonces: %w", err)
		}

		gencfg.Accounts = mgr.Accounts()
		gencfg.ChainID = chainID
		gencfg.GasPrice = gasPrice
		// Transfers cycle value between the sender set; sending to the zero
		// address would slowly burn the funded balance.
		gencfg.Builder = txbuilder.NewTransferBuilder(mgr.Accounts()[0].Address, big.NewInt(1))
		gencfg.Sender = sender.New(sender.Config{Client: client, Logger: logger})
	}

	return loadgen.New(gencfg)
}

// resolveChainParams returns the chain ID and gas price, querying the node
// for any value not pinned by configuration.
func resolveChainParams(ctx context.Context, cfg *config.Config, client rpc.Client) (*big.Int, *big.Int, error) {
	var chainID, gasPrice *big.Int

	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	} else {
		id, err := client.GetChainID(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("query chain ID: %w", err)
		}
		chainID = id
	}

	if cfg.GasPrice > 0 {
		gasPrice = big.NewInt(cfg.GasPrice)
	} else {
		p, err := client.GetGasPrice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("query gas price: %w", err)
		}
		gasPrice = new(big.Int).SetUint64(p)
	}

	return chainID, gasPrice, nil
}
