package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "nlquant-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SNAPSHOT_PATH", "ARTIFACTS_DIR",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"MARKETDATA_PROVIDER", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadFullFile(t *testing.T) {
	clearEnvOverrides(t)
	path := writeTempConfig(t, `
storage:
  snapshot_path: "/tmp/nlquant/bars.db"
  artifacts_dir: "/tmp/nlquant/runs"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
marketdata:
  provider: "alpaca"
  rate_limit_per_min: 120
  cache_entries: 32
  cache_ttl_minutes: 5
compiler:
  max_repairs: 3
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.SnapshotPath != "/tmp/nlquant/bars.db" {
		t.Errorf("Storage.SnapshotPath = %q, want %q", cfg.Storage.SnapshotPath, "/tmp/nlquant/bars.db")
	}
	if cfg.Storage.ArtifactsDir != "/tmp/nlquant/runs" {
		t.Errorf("Storage.ArtifactsDir = %q, want %q", cfg.Storage.ArtifactsDir, "/tmp/nlquant/runs")
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}

	// -- MarketData --
	if cfg.MarketData.Provider != "alpaca" {
		t.Errorf("MarketData.Provider = %q, want %q", cfg.MarketData.Provider, "alpaca")
	}
	if cfg.MarketData.RateLimitPerMin != 120 {
		t.Errorf("MarketData.RateLimitPerMin = %d, want %d", cfg.MarketData.RateLimitPerMin, 120)
	}

	// -- Compiler --
	if cfg.Compiler.MaxRepairs != 3 {
		t.Errorf("Compiler.MaxRepairs = %d, want %d", cfg.Compiler.MaxRepairs, 3)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnvOverrides(t)
	path := writeTempConfig(t, `
storage:
  snapshot_path: "/custom/bars.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.SnapshotPath != "/custom/bars.db" {
		t.Errorf("Storage.SnapshotPath = %q, want %q", cfg.Storage.SnapshotPath, "/custom/bars.db")
	}
	// Unset sections fall back to defaults.
	if cfg.MarketData.Provider != "synthetic" {
		t.Errorf("MarketData.Provider = %q, want default %q", cfg.MarketData.Provider, "synthetic")
	}
	if cfg.Compiler.MaxRepairs != 2 {
		t.Errorf("Compiler.MaxRepairs = %d, want default %d", cfg.Compiler.MaxRepairs, 2)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	path := writeTempConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  snapshot_path: "/original/bars.db"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("SNAPSHOT_PATH", "/env/bars.db")
	t.Setenv("MARKETDATA_PROVIDER", "snapshot")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.SnapshotPath != "/env/bars.db" {
		t.Errorf("Storage.SnapshotPath = %q, want %q (env override)", cfg.Storage.SnapshotPath, "/env/bars.db")
	}
	if cfg.MarketData.Provider != "snapshot" {
		t.Errorf("MarketData.Provider = %q, want %q (env override)", cfg.MarketData.Provider, "snapshot")
	}
}

func TestLoadCanonicalAlpacaEnvWins(t *testing.T) {
	clearEnvOverrides(t)
	path := writeTempConfig(t, `
alpaca:
  api_key: "yaml-key"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_KEY_ID", "canonical-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (APCA_* wins)", cfg.Alpaca.APIKey, "canonical-key")
	}
}
