// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/blockprobe/pkg/types"
)

// Config holds the full probe configuration.
type Config struct {
	RPCURL string
	WSURL  string // optional; when set, block heads come from a newHeads subscription

	PollInterval     time.Duration
	BaselineDuration time.Duration
	LoadDuration     time.Duration

	Mode    types.LoadMode
	Rate    float64 // target requests per second during the load phase
	Workers int

	Thresholds types.Thresholds

	// Transaction mode only.
	ChainID     int64 // 0 = query from node
	GasPrice    int64 // wei; 0 = query from node
	FunderKey   string
	AccountKeys []string
	NumAccounts int    // throwaway accounts to generate when no keys are given
	FundWei     string // decimal wei funded per generated account

	ListenAddr string // metrics/pprof listen address; empty disables the listener
	LogLevel   string
}

// Defaults
const (
	DefaultRPCURL           = "http://127.0.0.1:8545"
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultBaselineDuration = 30 * time.Second
	DefaultLoadDuration     = 30 * time.Second
	DefaultRate             = 5000
	DefaultWorkers          = 64
	DefaultNumAccounts      = 50
	DefaultFundWei          = "1000000000000000000" // 1 ether
	DefaultLogLevel         = "info"
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:           DefaultRPCURL,
		PollInterval:     DefaultPollInterval,
		BaselineDuration: DefaultBaselineDuration,
		LoadDuration:     DefaultLoadDuration,
		Mode:             types.LoadModeRead,
		Rate:             DefaultRate,
		Workers:          DefaultWorkers,
		Thresholds:       types.DefaultThresholds(),
		NumAccounts:      DefaultNumAccounts,
		FundWei:          DefaultFundWei,
		LogLevel:         DefaultLogLevel,
	}

	// Load from environment variables first
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("STRESS_FUNDER_KEY"); v != "" {
		cfg.FunderKey = v
	}
	if v := os.Getenv("STRESS_ACCOUNT_KEYS"); v != "" {
		cfg.AccountKeys = splitKeys(v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.ChainID = id
		}
	}
	if v := os.Getenv("GAS_PRICE"); v != "" {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil && p > 0 {
			cfg.GasPrice = p
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Define command-line flags
	var (
		rpcURL   = flag.String("rpc", cfg.RPCURL, "JSON-RPC endpoint URL")
		wsURL    = flag.String("ws", cfg.WSURL, "WebSocket endpoint for newHeads (optional; http(s) URLs are converted to ws(s); HTTP polling when empty)")
		poll     = flag.Duration("poll", cfg.PollInterval, "Block number poll interval")
		baseline = flag.Duration("baseline", cfg.BaselineDuration, "Baseline monitoring duration")
		load     = flag.Duration("load", cfg.LoadDuration, "Under-load monitoring duration")
		mode     = flag.String("mode", string(cfg.Mode), "Load mode: read or tx")
		rate     = flag.Float64("rate", cfg.Rate, "Target requests per second during the load phase")
		workers  = flag.Int("workers", cfg.Workers, "Load generator worker count")
		fastMs   = flag.Float64("fast-ms", cfg.Thresholds.FastMs, "Upper bound of the FAST class in milliseconds")
		okMs     = flag.Float64("ok-ms", cfg.Thresholds.OKMs, "Upper bound of the OK class in milliseconds")
		slowMs   = flag.Float64("slow-ms", cfg.Thresholds.SlowMs, "Upper bound of the SLOW class in milliseconds")
		chainID  = flag.Int64("chainid", cfg.ChainID, "Chain ID (0 = query from node)")
		gasPrice = flag.Int64("gasprice", cfg.GasPrice, "Gas price in wei (0 = query from node)")
		accounts = flag.Int("accounts", cfg.NumAccounts, "Throwaway accounts to generate in tx mode when no keys are provided")
		fundWei  = flag.String("fund-wei", cfg.FundWei, "Wei funded per generated account (decimal)")
		listen   = flag.String("listen", cfg.ListenAddr, "Metrics/pprof listen address (empty disables)")
		logLevel = flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	)

	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.PollInterval = *poll
	cfg.BaselineDuration = *baseline
	cfg.LoadDuration = *load
	cfg.Mode = types.LoadMode(*mode)
	cfg.Rate = *rate
	cfg.Workers = *workers
	cfg.Thresholds = types.Thresholds{FastMs: *fastMs, OKMs: *okMs, SlowMs: *slowMs}
	cfg.ChainID = *chainID
	cfg.GasPrice = *gasPrice
	cfg.NumAccounts = *accounts
	cfg.FundWei = *fundWei
	cfg.ListenAddr = *listen
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.BaselineDuration <= 0 {
		return fmt.Errorf("baseline duration must be positive")
	}
	if c.LoadDuration <= 0 {
		return fmt.Errorf("load duration must be positive")
	}
	switch c.Mode {
	case types.LoadModeRead, types.LoadModeTx:
	default:
		return fmt.Errorf("invalid load mode: %s (supported: read, tx)", c.Mode)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Mode == types.LoadModeTx {
		if len(c.AccountKeys) == 0 && c.FunderKey == "" {
			return fmt.Errorf("transaction mode requires STRESS_ACCOUNT_KEYS or STRESS_FUNDER_KEY")
		}
		if len(c.AccountKeys) == 0 && c.NumAccounts <= 0 {
			return fmt.Errorf("accounts must be positive when generating throwaway accounts")
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// splitKeys splits a comma-separated private key list, trimming whitespace
// and dropping empty entries.
func splitKeys(s string) []string {
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
