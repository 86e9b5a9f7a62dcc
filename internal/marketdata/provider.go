// Package marketdata provides minute-bar providers: a deterministic
// synthetic generator, an Alpaca-backed client, a snapshot-store reader, and
// a caching decorator. All providers return bars ascending by timestamp and
// surface DATA_UNAVAILABLE when a range yields nothing.
package marketdata

import (
	"context"
	"time"

	"nlquant/internal/domain"
)

// Provider serves 1-minute bars for a symbol over [start, end].
type Provider interface {
	MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error)
}
