package domain

import "github.com/shopspring/decimal"

// RoundToPrecision rounds half away from zero to the given number of decimal
// places. Sizes round to 2 places, money estimates to 4.
func RoundToPrecision(value float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	f, _ := decimal.NewFromFloat(value).Round(int32(places)).Float64()
	return f
}

// SafeDivide divides, returning def when the denominator is zero.
func SafeDivide(num, den, def float64) float64 {
	if den == 0 {
		return def
	}
	return num / den
}
