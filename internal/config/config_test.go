package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  base_url: https://fapi.example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.Hedge.AdjustInterval != 15*time.Second {
		t.Errorf("adjust interval = %v, want 15s", cfg.Hedge.AdjustInterval)
	}
	if cfg.Hedge.DeltaThresholdPct != 0.01 {
		t.Errorf("delta threshold = %v, want 0.01", cfg.Hedge.DeltaThresholdPct)
	}
	if cfg.Rebalance.ConfirmDelay != 15*time.Minute {
		t.Errorf("confirm delay = %v, want 15m", cfg.Rebalance.ConfirmDelay)
	}
	if cfg.Exchange.TakerFeeRate != 0.0005 {
		t.Errorf("taker fee rate = %v, want 0.0005", cfg.Exchange.TakerFeeRate)
	}
	if cfg.Orchestrator.ListenAddr != ":8081" || cfg.Rebalance.ListenAddr != ":8082" || cfg.Hedge.ListenAddr != ":8083" {
		t.Errorf("listen addrs = %q/%q/%q", cfg.Orchestrator.ListenAddr, cfg.Rebalance.ListenAddr, cfg.Hedge.ListenAddr)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
hedge:
  adjust_interval: 5s
  delta_threshold_pct: 0.02
rebalance:
  confirm_delay: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hedge.AdjustInterval != 5*time.Second {
		t.Errorf("adjust interval = %v, want 5s", cfg.Hedge.AdjustInterval)
	}
	if cfg.Hedge.DeltaThresholdPct != 0.02 {
		t.Errorf("delta threshold = %v, want 0.02", cfg.Hedge.DeltaThresholdPct)
	}
	if cfg.Rebalance.ConfirmDelay != 30*time.Minute {
		t.Errorf("confirm delay = %v, want 30m", cfg.Rebalance.ConfirmDelay)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"threshold out of range", "hedge:\n  delta_threshold_pct: 1.5\n"},
		{"negative fee rate", "exchange:\n  taker_fee_rate: -0.1\n"},
		{"history without dsn", "history:\n  enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
