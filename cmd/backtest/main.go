// Run a backtest for a strategy spec (or compile one from natural language
// first), print the KPI summary, and write the run artifacts.
//
// Usage:
//
//	go run cmd/backtest/main.go -spec strategy.json -start 2024-01-02 -end 2024-06-28
//	go run cmd/backtest/main.go -nl "trim TQQQ on 4h MACD bear cross" -start 2024-01-02 -end 2024-06-28
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"nlquant/internal/artifacts"
	"nlquant/internal/calendar"
	"nlquant/internal/compiler"
	"nlquant/internal/config"
	"nlquant/internal/engine"
	"nlquant/internal/marketdata"
	"nlquant/internal/spec"
	"nlquant/internal/store"
	"nlquant/internal/util"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config (optional)")
		specPath = flag.String("spec", "", "path to a compiled strategy spec JSON")
		nl       = flag.String("nl", "", "natural-language strategy to compile when -spec is not given")
		start    = flag.String("start", "", "range start, YYYY-MM-DD")
		end      = flag.String("end", "", "range end, YYYY-MM-DD")
		runID    = flag.String("run-id", "", "artifact directory name (default: derived from strategy id and time)")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	logger := util.NewLogger(cfg.Logging.Level)
	ctx := context.Background()

	startT, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	endT, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	s, err := loadSpec(ctx, cfg, logger, *specPath, *nl)
	if err != nil {
		log.Fatalf("%v", err)
	}

	provider, cleanup, err := newProvider(cfg)
	if err != nil {
		log.Fatalf("building market-data provider: %v", err)
	}
	defer cleanup()

	cal, err := calendar.NewXNYS()
	if err != nil {
		log.Fatalf("building calendar: %v", err)
	}

	eng := engine.New(cal, provider, logger, engine.WithProgress(func(done, total int, lastClose time.Time) {
		if done == total || done%50 == 0 {
			logger.Debug("backtest progress", "done", done, "total", total, "last_close", lastClose)
		}
	}))
	result, err := eng.Run(ctx, s, startT, endT)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	id := *runID
	if id == "" {
		id = fmt.Sprintf("%s_%s", s.StrategyID, time.Now().UTC().Format("20060102T150405Z"))
	}
	writer := artifacts.NewWriter(cfg.Storage.ArtifactsDir)
	dir, err := writer.WriteRun(id, s, artifacts.Inputs{
		StrategyID:      s.StrategyID,
		StrategyVersion: s.StrategyVersion,
		Start:           *start,
		End:             *end,
		Provider:        cfg.MarketData.Provider,
		RequestedAt:     time.Now().UTC().Format(time.RFC3339),
	}, result)
	if err != nil {
		log.Fatalf("writing artifacts: %v", err)
	}

	fmt.Printf("strategy   %s (%s)\n", s.StrategyID, s.Name)
	fmt.Printf("sessions   %d used / %d total (%.1f%% missing)\n",
		result.Health.UsedSessions, result.Health.TotalSessions, result.Health.MissingRatio*100)
	fmt.Printf("trades     %d (win rate %.0f%%)\n", result.KPIs.Trades, result.KPIs.WinRate*100)
	fmt.Printf("return     %+.2f%%\n", result.KPIs.ReturnPct)
	fmt.Printf("sharpe     %.2f\n", result.KPIs.Sharpe)
	fmt.Printf("max dd     %.2f%%\n", result.KPIs.MaxDDPct)
	fmt.Printf("artifacts  %s\n", dir)
}

// loadSpec reads a compiled spec from disk or compiles one from natural
// language.
func loadSpec(ctx context.Context, cfg *config.Config, logger *slog.Logger, specPath, nl string) (*spec.Spec, error) {
	if specPath != "" {
		data, err := os.ReadFile(specPath)
		if err != nil {
			return nil, fmt.Errorf("reading spec: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing spec: %w", err)
		}
		s, err := spec.Normalize(doc)
		if err != nil {
			return nil, fmt.Errorf("spec rejected: %w", err)
		}
		if err := s.Finalize(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if nl == "" {
		return nil, fmt.Errorf("either -spec or -nl is required")
	}
	c := compiler.New(logger, compiler.WithMaxRepairs(cfg.Compiler.MaxRepairs))
	return c.Compile(ctx, nl, "BACKTEST_ONLY", nil)
}

// newProvider wires the configured minute-bar source; the cleanup closes any
// underlying store.
func newProvider(cfg *config.Config) (marketdata.Provider, func(), error) {
	noop := func() {}
	switch cfg.MarketData.Provider {
	case "", "synthetic":
		return marketdata.NewSynthetic(), noop, nil
	case "alpaca":
		inner := marketdata.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.MarketData.RateLimitPerMin)
		cache := marketdata.NewBarCache(cfg.MarketData.CacheEntries, time.Duration(cfg.MarketData.CacheTTLMinutes)*time.Minute)
		return marketdata.NewCached(inner, cache), noop, nil
	case "snapshot":
		st, err := store.NewSQLiteStore(cfg.Storage.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		return marketdata.NewStoreProvider(st), func() { st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown marketdata provider %q", cfg.MarketData.Provider)
	}
}
