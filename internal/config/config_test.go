package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CACHE_SNAPSHOT_TTL", "30s")
	t.Setenv("ENGINE_DUST_THRESHOLD_USD", "0.5")
	t.Setenv("REGISTRY_FROM_DATABASE", "true")
	t.Setenv("ENGINE_REFRESH_WALLETS", "0xa, ,0xb")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want testhost", cfg.Database.Postgres.Host)
	}
	if cfg.Cache.SnapshotTTL != 30*time.Second {
		t.Errorf("Cache.SnapshotTTL = %v, want 30s", cfg.Cache.SnapshotTTL)
	}
	if cfg.Engine.DustThresholdUSD != 0.5 {
		t.Errorf("Engine.DustThresholdUSD = %v, want 0.5", cfg.Engine.DustThresholdUSD)
	}
	if !cfg.Registry.FromDatabase {
		t.Errorf("Registry.FromDatabase = false, want true")
	}
	if got := cfg.Engine.RefreshWallets; len(got) != 2 || got[0] != "0xa" || got[1] != "0xb" {
		t.Errorf("Engine.RefreshWallets = %v, want [0xa 0xb]", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Engine.DustThresholdUSD != 0.10 {
		t.Errorf("Engine.DustThresholdUSD = %v, want 0.10", cfg.Engine.DustThresholdUSD)
	}
	if cfg.Engine.HistoryDays != 30 {
		t.Errorf("Engine.HistoryDays = %v, want 30", cfg.Engine.HistoryDays)
	}
	if cfg.Indexer.BudgetReserved > cfg.Indexer.BudgetTotal {
		t.Errorf("reserved budget %d exceeds total %d", cfg.Indexer.BudgetReserved, cfg.Indexer.BudgetTotal)
	}
	if cfg.Indexer.APIKey != "" {
		t.Errorf("Indexer.APIKey should default to empty")
	}
	if len(cfg.Engine.RefreshWallets) != 0 {
		t.Errorf("Engine.RefreshWallets = %v, want none", cfg.Engine.RefreshWallets)
	}
	want := "postgres://valuator:@localhost:5432/portfolio_valuator?sslmode=disable"
	if got := cfg.Database.Postgres.URL(); got != want {
		t.Errorf("Postgres.URL() = %v, want %v", got, want)
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "reserved budget above total",
			env:     map[string]string{"INDEXER_BUDGET_TOTAL": "10", "INDEXER_BUDGET_RESERVED": "11"},
			wantErr: "INDEXER_BUDGET_RESERVED",
		},
		{
			name:    "negative dust threshold",
			env:     map[string]string{"ENGINE_DUST_THRESHOLD_USD": "-1"},
			wantErr: "ENGINE_DUST_THRESHOLD_USD",
		},
		{
			name:    "history window too long",
			env:     map[string]string{"ENGINE_HISTORY_DAYS": "400"},
			wantErr: "ENGINE_HISTORY_DAYS",
		},
		{
			name:    "zero refresh concurrency",
			env:     map[string]string{"ENGINE_REFRESH_CONCURRENCY": "0"},
			wantErr: "ENGINE_REFRESH_CONCURRENCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil {
				t.Fatal("LoadConfig() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestEnvGetters(t *testing.T) {
	t.Setenv("T_STR", "  padded  ")
	t.Setenv("T_INT", "200")
	t.Setenv("T_INT_BAD", "lots")
	t.Setenv("T_FLOAT", "1.25")
	t.Setenv("T_FLOAT_BAD", "abc")
	t.Setenv("T_DUR", "30s")
	t.Setenv("T_DUR_BAD", "soon")
	t.Setenv("T_BOOL", "no")
	t.Setenv("T_BOOL_BAD", "maybe")

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"string is trimmed", getEnv("T_STR", "x"), "padded"},
		{"unset string", getEnv("T_UNSET", "x"), "x"},
		{"int", getEnvAsInt("T_INT", 1), 200},
		{"bad int", getEnvAsInt("T_INT_BAD", 1), 1},
		{"float", getEnvAsFloat("T_FLOAT", 0), 1.25},
		{"bad float", getEnvAsFloat("T_FLOAT_BAD", 2), 2.0},
		{"duration", getEnvAsDuration("T_DUR", time.Second), 30 * time.Second},
		{"bad duration", getEnvAsDuration("T_DUR_BAD", time.Second), time.Second},
		{"bool", getEnvAsBool("T_BOOL", true), false},
		{"bad bool", getEnvAsBool("T_BOOL_BAD", true), true},
		{"unset bool", getEnvAsBool("T_UNSET", true), true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}
