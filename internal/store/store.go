// Package store persists minute-bar snapshots locally so backtests can run
// against frozen data.
package store

import (
	"context"
	"time"

	"nlquant/internal/domain"
)

// SnapshotStore reads and writes minute-bar snapshots.
type SnapshotStore interface {
	// WriteBars upserts bars for a symbol. Re-writing the same (symbol, ts)
	// replaces the row, so snapshot refreshes are idempotent.
	WriteBars(ctx context.Context, symbol string, bars []domain.MinuteBar) error
	// ReadBars returns bars for symbol with open timestamps in [start, end],
	// ascending.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error)
	// ListSymbols returns every symbol present in the snapshot, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
	Close() error
}
