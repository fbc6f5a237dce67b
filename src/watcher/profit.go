package watcher

import "github.com/shopspring/decimal"

// ComputeProfit returns the percentage and quote-currency profit for a
// position closed at closePrice. Short positions invert the sign. The
// percentage is rounded to two decimals, the quote amount to eight.
func ComputeProfit(isLong bool, openPrice, closePrice, closedVolume float64) (pct, quote float64) {
	if openPrice == 0 {
		return 0, 0
	}

	open := decimal.NewFromFloat(openPrice)
	diff := decimal.NewFromFloat(closePrice).Sub(open)
	if !isLong {
		diff = diff.Neg()
	}

	pct, _ = diff.Div(open).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	quote, _ = diff.Mul(decimal.NewFromFloat(closedVolume)).Round(8).Float64()

	return pct, quote
}
