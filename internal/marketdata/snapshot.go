package marketdata

import (
	"context"
	"time"

	"nlquant/internal/domain"
)

// BarReader reads minute bars from a local snapshot, typically the sqlite
// snapshot store.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error)
}

// StoreProvider serves bars from a frozen local snapshot so a run is
// reproducible byte-for-byte regardless of upstream data revisions.
type StoreProvider struct {
	reader BarReader
}

var _ Provider = (*StoreProvider)(nil)

// NewStoreProvider wraps a snapshot reader.
func NewStoreProvider(reader BarReader) *StoreProvider {
	return &StoreProvider{reader: reader}
}

// MinuteBars implements Provider.
func (p *StoreProvider) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	bars, err := p.reader.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.E(domain.ErrDataUnavailable, "snapshot has no bars in range", map[string]any{
			"symbol": symbol,
			"start":  start.Format(time.RFC3339),
			"end":    end.Format(time.RFC3339),
		})
	}
	return bars, nil
}
