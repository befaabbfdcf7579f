package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Panel.LoginTimeout != 3*time.Second {
		t.Errorf("LoginTimeout = %s, want 3s", cfg.Panel.LoginTimeout)
	}
	if cfg.Panel.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %s, want 15s", cfg.Panel.RequestTimeout)
	}
	if cfg.Panel.TrojanTokenMode != "legacy" {
		t.Errorf("TrojanTokenMode = %q, want legacy", cfg.Panel.TrojanTokenMode)
	}
	if cfg.Sync.Schedule != "@every 5m" || !cfg.Sync.Enabled {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if got := cfg.Observability.ADDR(); got != "127.0.0.1:8383" {
		t.Errorf("ADDR() = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(context.Background(), envconfig.MapLookuper(map[string]string{
		"ENV":                        "production",
		"PANEL_RATE_LIMIT_RPS":       "2.5",
		"PANEL_TROJAN_TOKEN_MODE":    "random",
		"SYNC_CONCURRENCY":           "8",
		"DB_PATH":                    "/var/lib/provisioner/db.sqlite",
		"SEED_FILE":                  "seed.yaml",
		"OBSERVABILITY_PORT":         "9100",
		"HEALTH_INTERVAL":            "30s",
		"PANEL_LOGIN_TIMEOUT":        "5s",
		"PANEL_RATE_LIMIT_BURST":     "1",
		"OBSERVABILITY_IDLE_TIMEOUT": "2m",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Panel.RateLimit.RPS != 2.5 || cfg.Panel.RateLimit.Burst != 1 {
		t.Errorf("RateLimit = %+v", cfg.Panel.RateLimit)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Sync.Concurrency)
	}
	if cfg.SeedFile != "seed.yaml" {
		t.Errorf("SeedFile = %q", cfg.SeedFile)
	}
	if cfg.Health.Interval != 30*time.Second {
		t.Errorf("Health.Interval = %s", cfg.Health.Interval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown trojan mode", env: map[string]string{"PANEL_TROJAN_TOKEN_MODE": "weak"}},
		{name: "zero sync concurrency", env: map[string]string{"SYNC_CONCURRENCY": "0"}},
		{name: "bad lifetime", env: map[string]string{"DB_MAX_LIFETIME": "forever"}},
		{name: "malformed duration", env: map[string]string{"PANEL_LOGIN_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(context.Background(), envconfig.MapLookuper(tt.env)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}
