package domain

import "github.com/shopspring/decimal"

// CurrencyScale is the number of fractional digits kept for amounts (paise).
const CurrencyScale = 2

// PercentOf returns amount*pct/100 rounded down to the currency unit.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Truncate(CurrencyScale)
}

// Apportion splits total by percentages (summing to 100). Each part is rounded
// down to the currency unit and the remainder goes to the largest percentage,
// the first one on ties, so the parts always add up to total.
func Apportion(total decimal.Decimal, pcts []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(pcts))
	if len(pcts) == 0 {
		return out
	}
	sum := decimal.Zero
	largest := 0
	for i, p := range pcts {
		out[i] = PercentOf(total, p)
		sum = sum.Add(out[i])
		if p.GreaterThan(pcts[largest]) {
			largest = i
		}
	}
	out[largest] = out[largest].Add(total.Sub(sum))
	return out
}
