// Package domain holds the core types of the funding arbitrage pipeline:
// funding rates and spreads, opportunities, orders, and executions. It has
// no dependencies on the rest of the module.
package domain

import "time"

// SpreadDirection names which venue to short. The short leg always sits on
// the venue paying the higher funding rate.
type SpreadDirection string

const (
	DirectionShortReyaLongHL SpreadDirection = "short_reya_long_hl"
	DirectionLongReyaShortHL SpreadDirection = "long_reya_short_hl"
)

// Inverse returns the opposite direction.
func (d SpreadDirection) Inverse() SpreadDirection {
	if d == DirectionShortReyaLongHL {
		return DirectionLongReyaShortHL
	}
	return DirectionShortReyaLongHL
}

// FundingRate is one venue's funding rate observation for a symbol, as a
// percentage per funding period.
type FundingRate struct {
	Symbol    string
	Exchange  string
	Rate      float64
	Timestamp time.Time
}

// FundingRateSpread is the derived cross-venue divergence for one symbol at
// one instant.
type FundingRateSpread struct {
	Symbol           string
	ReyaRate         float64
	HyperliquidRate  float64
	Spread           float64 // absolute difference, percentage points
	SpreadPercentage float64 // spread relative to the hyperliquid rate
	Direction        SpreadDirection
	Profitable       bool
	Timestamp        time.Time
}

// spreadPctFloor guards the relative-spread division against a zero
// reference rate.
const spreadPctFloor = 0.0001

// NewSpread computes the full spread snapshot for a symbol from both venue
// rates and the profitable band [minThreshold, maxThreshold].
func NewSpread(symbol string, reyaRate, hlRate, minThreshold, maxThreshold float64, ts time.Time) FundingRateSpread {
	spread := SpreadValue(reyaRate, hlRate)
	return FundingRateSpread{
		Symbol:           symbol,
		ReyaRate:         reyaRate,
		HyperliquidRate:  hlRate,
		Spread:           spread,
		SpreadPercentage: SpreadPercentage(reyaRate, hlRate),
		Direction:        Direction(reyaRate, hlRate),
		Profitable:       IsProfitableSpread(spread, minThreshold, maxThreshold),
		Timestamp:        ts,
	}
}

// SpreadValue is the absolute rate difference in percentage points.
func SpreadValue(reyaRate, hlRate float64) float64 {
	return abs(reyaRate - hlRate)
}

// SpreadPercentage expresses the spread relative to the magnitude of the
// hyperliquid reference rate.
func SpreadPercentage(reyaRate, hlRate float64) float64 {
	ref := abs(hlRate)
	if ref < spreadPctFloor {
		ref = spreadPctFloor
	}
	return abs(reyaRate-hlRate) / ref * 100
}

// Direction picks the short leg: short the venue with the higher rate.
func Direction(reyaRate, hlRate float64) SpreadDirection {
	if reyaRate > hlRate {
		return DirectionShortReyaLongHL
	}
	return DirectionLongReyaShortHL
}

// IsProfitableSpread reports whether the spread falls inside the configured
// band. Both bounds are inclusive; spreads above the maximum are treated as
// suspect data rather than outsized profit.
func IsProfitableSpread(spread, minThreshold, maxThreshold float64) bool {
	return spread >= minThreshold && spread <= maxThreshold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
