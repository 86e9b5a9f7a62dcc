package marketdata

import (
	"context"
	"sort"
	"time"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"nlquant/internal/domain"
	"nlquant/internal/util"
)

// alpacaBarsAPI is the slice of the Alpaca market-data client we consume.
type alpacaBarsAPI interface {
	GetBars(symbol string, req md.GetBarsRequest) ([]md.Bar, error)
}

// Alpaca serves SIP minute bars from the Alpaca market-data API with bounded
// retries and a shared token-bucket rate limiter.
type Alpaca struct {
	client  alpacaBarsAPI
	limiter *util.RateLimiter
}

var _ Provider = (*Alpaca)(nil)

const (
	barsRetryAttempts = 3
	barsRetryDelay    = time.Second
)

// NewAlpaca builds a provider from API credentials. ratePerMin bounds
// request frequency across goroutines; pass the account tier's documented
// limit.
func NewAlpaca(apiKey, apiSecret, dataURL string, ratePerMin int) *Alpaca {
	opts := md.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Alpaca{
		client:  md.NewClient(opts),
		limiter: util.NewRateLimiter(ratePerMin),
	}
}

// MinuteBars implements Provider.
func (p *Alpaca) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	var raw []md.Bar
	err := util.Retry(ctx, barsRetryAttempts, barsRetryDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		raw, err = p.client.GetBars(symbol, md.GetBarsRequest{
			TimeFrame: md.OneMin,
			Start:     start,
			End:       end,
			Feed:      "sip",
		})
		return err
	})
	if err != nil {
		return nil, domain.E(domain.ErrDataUnavailable, "minute bar request failed", map[string]any{
			"symbol": symbol,
			"start":  start.Format(time.RFC3339),
			"end":    end.Format(time.RFC3339),
			"cause":  err.Error(),
		})
	}
	if len(raw) == 0 {
		return nil, domain.E(domain.ErrDataUnavailable, "no bars returned", map[string]any{
			"symbol": symbol,
			"start":  start.Format(time.RFC3339),
			"end":    end.Format(time.RFC3339),
		})
	}

	bars := make([]domain.MinuteBar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.MinuteBar{
			TS:     b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}
