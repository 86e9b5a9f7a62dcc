package engine

import (
	"math"

	"nlquant/internal/domain"
)

const annualizationFactor = 252

// computeKPIs summarizes the run. Pure function of the equity and trade
// series; every ratio degrades to 0 rather than NaN on degenerate input.
func computeKPIs(initialEquity float64, equity []domain.EquityPoint, trades []domain.Trade) domain.KPIs {
	var k domain.KPIs
	k.Trades = len(trades)

	if len(equity) > 0 && initialEquity > 0 {
		final := equity[len(equity)-1].V
		k.ReturnPct = (final/initialEquity - 1.0) * 100.0
	}

	var returns []float64
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].V
		if prev > 0 {
			returns = append(returns, equity[i].V/prev-1.0)
		}
	}
	if len(returns) >= 3 {
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		std := math.Sqrt(variance / float64(len(returns)))
		if std > 1e-12 {
			k.Sharpe = mean / std * math.Sqrt(annualizationFactor)
		}
	}

	peak := initialEquity
	maxDD := 0.0
	for _, p := range equity {
		if p.V > peak {
			peak = p.V
		}
		if peak > 0 {
			if dd := p.V/peak - 1.0; dd < maxDD {
				maxDD = dd
			}
		}
	}
	k.MaxDDPct = maxDD * 100.0

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.PnL != nil && *t.PnL > 0 {
				wins++
			}
		}
		k.WinRate = float64(wins) / float64(len(trades))
	}
	return k
}
