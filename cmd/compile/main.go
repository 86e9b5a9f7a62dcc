// Compile a natural-language strategy description into a normalized,
// versioned strategy spec and print it as JSON.
//
// Usage:
//
//	go run cmd/compile/main.go -nl "sell 30% of TQQQ after a 4h MACD bear cross"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"nlquant/internal/compiler"
	"nlquant/internal/config"
	"nlquant/internal/spec"
	"nlquant/internal/util"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to YAML config (optional)")
		nl        = flag.String("nl", "", "natural-language strategy description (default: stdin)")
		mode      = flag.String("mode", "BACKTEST_ONLY", "compilation mode recorded in meta")
		overrides = flag.String("overrides", "", "JSON object merged over the accepted draft (optional)")
		out       = flag.String("o", "", "output file (default: stdout)")
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

	text := *nl
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("reading stdin: %v", err)
		}
		text = string(data)
	}
	if text == "" {
		log.Fatal("no strategy description given (use -nl or stdin)")
	}

	var ov map[string]any
	if *overrides != "" {
		if err := json.Unmarshal([]byte(*overrides), &ov); err != nil {
			log.Fatalf("parsing -overrides: %v", err)
		}
	}

	c := compiler.New(logger, compiler.WithMaxRepairs(cfg.Compiler.MaxRepairs))
	s, err := c.Compile(context.Background(), text, *mode, ov)
	if err != nil {
		log.Fatalf("compile failed: %v", err)
	}

	doc, err := spec.CanonicalJSON(s)
	if err != nil {
		log.Fatalf("encoding spec: %v", err)
	}
	if *out == "" {
		fmt.Println(string(doc))
		return
	}
	if err := os.WriteFile(*out, append(doc, '\n'), 0o644); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	logger.Info("spec written", "path", *out, "strategy_id", s.StrategyID, "version", s.StrategyVersion)
}
