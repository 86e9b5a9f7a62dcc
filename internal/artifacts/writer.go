// Package artifacts renders one backtest run into its on-disk deliverables:
// a JSON report, a CSV trade ledger, Parquet exports of the equity curve and
// trades, plus the exact strategy document and inputs the run used.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"nlquant/internal/engine"
	"nlquant/internal/spec"
)

// File names inside a run directory.
const (
	ReportFile   = "report.json"
	TradesCSV    = "trades.csv"
	TradesFile   = "trades.parquet"
	EquityFile   = "equity.parquet"
	DSLFile      = "dsl.json"
	SnapshotFile = "inputs_snapshot.json"
)

// Inputs records what the run was asked to do, independent of what the
// strategy document says. Written verbatim so a run can be reproduced.
type Inputs struct {
	StrategyID      string `json:"strategy_id"`
	StrategyVersion string `json:"strategy_version"`
	Start           string `json:"start"` // YYYY-MM-DD
	End             string `json:"end"`
	Provider        string `json:"provider"`
	RequestedAt     string `json:"requested_at"` // RFC 3339 UTC
}

// report is the top-level summary document.
type report struct {
	StrategyID      string            `json:"strategy_id"`
	StrategyVersion string            `json:"strategy_version"`
	GeneratedAt     string            `json:"generated_at"`
	KPIs            any               `json:"kpis"`
	DataHealth      any               `json:"data_health"`
	Resolved        engine.Resolved   `json:"resolved"`
	Files           map[string]string `json:"files"`
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// EquityRecord is the Parquet schema for one equity observation.
type EquityRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Value     float64 `parquet:"value"`
}

// TradeRecord is the Parquet schema for one simulated fill.
type TradeRecord struct {
	DecisionTime int64    `parquet:"decision_time,timestamp(millisecond)"` // Unix ms
	FillTime     int64    `parquet:"fill_time,timestamp(millisecond)"`     // Unix ms
	Symbol       string   `parquet:"symbol"`
	Side         string   `parquet:"side"`
	Qty          float64  `parquet:"qty"`
	FillPrice    float64  `parquet:"fill_price"`
	RuleID       string   `parquet:"rule_id"`
	ActionID     string   `parquet:"action_id"`
	PnL          *float64 `parquet:"pnl,optional"`
	PnLPct       *float64 `parquet:"pnl_pct,optional"`
}

// Writer renders run artifacts under a root directory, one subdirectory per
// run.
type Writer struct {
	root string
	now  func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir, now: time.Now}
}

// WriteRun writes every artifact for one run into <root>/<runID>/ and returns
// the run directory path.
func (w *Writer) WriteRun(runID string, s *spec.Spec, inputs Inputs, result *engine.Result) (string, error) {
	dir := filepath.Join(w.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	rep := report{
		StrategyID:      s.StrategyID,
		StrategyVersion: s.StrategyVersion,
		GeneratedAt:     w.now().UTC().Format(time.RFC3339),
		KPIs:            result.KPIs,
		DataHealth:      result.Health,
		Resolved:        result.Resolved,
		Files: map[string]string{
			"trades_csv":      TradesCSV,
			"trades_parquet":  TradesFile,
			"equity_parquet":  EquityFile,
			"dsl":             DSLFile,
			"inputs_snapshot": SnapshotFile,
		},
	}
	if err := writeJSON(filepath.Join(dir, ReportFile), rep); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, SnapshotFile), inputs); err != nil {
		return "", err
	}

	// The strategy document is written in canonical form: re-finalizing the
	// parsed file reproduces the same strategy_version.
	doc, err := spec.CanonicalJSON(s)
	if err != nil {
		return "", fmt.Errorf("canonicalizing strategy document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DSLFile), doc, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", DSLFile, err)
	}

	if err := w.writeTradesCSV(filepath.Join(dir, TradesCSV), result); err != nil {
		return "", err
	}
	if err := writeParquetFile(filepath.Join(dir, EquityFile), equityRecords(result)); err != nil {
		return "", err
	}
	if err := writeParquetFile(filepath.Join(dir, TradesFile), tradeRecords(result)); err != nil {
		return "", err
	}
	return dir, nil
}

func (w *Writer) writeTradesCSV(path string, result *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{"decision_time", "fill_time", "symbol", "side", "qty", "fill_price", "rule_id", "action_id", "pnl", "pnl_pct"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range result.Trades {
		row := []string{
			t.DecisionTime.UTC().Format(time.RFC3339),
			t.FillTime.UTC().Format(time.RFC3339),
			t.Symbol,
			t.Side,
			formatFloat(t.Qty),
			formatFloat(t.FillPrice),
			t.Why.RuleID,
			t.Why.ActionID,
			formatOptional(t.PnL),
			formatOptional(t.PnLPct),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func equityRecords(result *engine.Result) []EquityRecord {
	out := make([]EquityRecord, len(result.Equity))
	for i, p := range result.Equity {
		out[i] = EquityRecord{Timestamp: p.T.UnixMilli(), Value: p.V}
	}
	return out
}

func tradeRecords(result *engine.Result) []TradeRecord {
	out := make([]TradeRecord, len(result.Trades))
	for i, t := range result.Trades {
		out[i] = TradeRecord{
			DecisionTime: t.DecisionTime.UnixMilli(),
			FillTime:     t.FillTime.UnixMilli(),
			Symbol:       t.Symbol,
			Side:         t.Side,
			Qty:          t.Qty,
			FillPrice:    t.FillPrice,
			RuleID:       t.Why.RuleID,
			ActionID:     t.Why.ActionID,
			PnL:          t.PnL,
			PnLPct:       t.PnLPct,
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
