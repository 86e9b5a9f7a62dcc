package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the nlquant toolchain.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	MarketData MarketData `yaml:"marketdata"`
	Compiler   Compiler   `yaml:"compiler"`
	Logging    Logging    `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SnapshotPath string `yaml:"snapshot_path"` // sqlite minute-bar snapshot db
	ArtifactsDir string `yaml:"artifacts_dir"` // backtest run output root
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// MarketData selects and tunes the minute-bar provider.
type MarketData struct {
	// Provider is one of "synthetic", "alpaca", or "snapshot".
	Provider        string `yaml:"provider"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	CacheEntries    int    `yaml:"cache_entries"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

// Compiler tunes the NL-to-spec compilation loop.
type Compiler struct {
	MaxRepairs int `yaml:"max_repairs"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given: synthetic
// data, artifacts under ./runs, info-level JSON logs.
func Default() *Config {
	return &Config{
		Storage: Storage{
			SnapshotPath: "bars.db",
			ArtifactsDir: "runs",
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
		},
		MarketData: MarketData{
			Provider:        "synthetic",
			RateLimitPerMin: 200,
			CacheEntries:    64,
			CacheTTLMinutes: 15,
		},
		Compiler: Compiler{MaxRepairs: 2},
		Logging:  Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		cfg.Storage.SnapshotPath = v
	}
	if v := os.Getenv("ARTIFACTS_DIR"); v != "" {
		cfg.Storage.ArtifactsDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("MARKETDATA_PROVIDER"); v != "" {
		cfg.MarketData.Provider = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
