package utils

import "github.com/shopspring/decimal"

// MoneyPlaces is the precision of every monetary output.
const MoneyPlaces = 2

// RoundMoney rounds half away from zero to two places (100.555 -> 100.56).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// NullToZero coerces an empty aggregate to zero.
func NullToZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// SafeAverage returns total / count rounded, or zero when count is zero.
func SafeAverage(total decimal.Decimal, count int64) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return RoundMoney(total.Div(decimal.NewFromInt(count)))
}
