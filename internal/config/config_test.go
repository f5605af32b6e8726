package config

import (
	"testing"
	"time"

	"github.com/gateway-fm/blockprobe/pkg/types"
)

func validConfig() *Config {
	return &Config{
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
}

func TestValidateDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty RPC URL", func(c *Config) { c.RPCURL = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero baseline duration", func(c *Config) { c.BaselineDuration = 0 }},
		{"zero load duration", func(c *Config) { c.LoadDuration = 0 }},
		{"unknown mode", func(c *Config) { c.Mode = "write" }},
		{"zero rate", func(c *Config) { c.Rate = 0 }},
		{"negative rate", func(c *Config) { c.Rate = -1 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"unordered thresholds", func(c *Config) { c.Thresholds = types.Thresholds{FastMs: 100, OKMs: 85, SlowMs: 150} }},
		{"tx mode without keys", func(c *Config) { c.Mode = types.LoadModeTx }},
		{"tx mode zero accounts", func(c *Config) {
			c.Mode = types.LoadModeTx
			c.FunderKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
			c.NumAccounts = 0
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateTxModeWithKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = types.LoadModeTx
	cfg.AccountKeys = []string{"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("tx mode with account keys should validate: %v", err)
	}

	cfg = validConfig()
	cfg.Mode = types.LoadModeTx
	cfg.FunderKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	if err := cfg.Validate(); err != nil {
		t.Errorf("tx mode with funder key should validate: %v", err)
	}
}

func TestSplitKeys(t *testing.T) {
	got := splitKeys(" 0xaaa , 0xbbb ,, 0xccc ")
	want := []string{"0xaaa", "0xbbb", "0xccc"}
	if len(got) != len(want) {
		t.Fatalf("splitKeys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitKeys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefaultsMatchProbeTargets(t *testing.T) {
	if DefaultPollInterval != 20*time.Millisecond {
		t.Errorf("DefaultPollInterval = %v, want 20ms", DefaultPollInterval)
	}
	if DefaultRate != 5000 {
		t.Errorf("DefaultRate = %v, want 5000", float64(DefaultRate))
	}
	th := types.DefaultThresholds()
	if th.FastMs != 85 || th.OKMs != 100 || th.SlowMs != 150 {
		t.Errorf("default thresholds = %+v, want 85/100/150", th)
	}
}
