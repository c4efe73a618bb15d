package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpreadValueSymmetry(t *testing.T) {
	cases := []struct{ a, b float64 }{
		{0.01, -0.005},
		{-0.5, 1.0},
		{2.5, 2.5},
		{0, 0.3},
	}
	for _, tc := range cases {
		assert.Equal(t, SpreadValue(tc.a, tc.b), SpreadValue(tc.b, tc.a))
		assert.Equal(t, SpreadPercentage(tc.a, tc.b), SpreadPercentage(tc.b, tc.a))
	}
}

func TestDirectionInverse(t *testing.T) {
	cases := []struct{ a, b float64 }{
		{1.0, -0.5},
		{-0.5, 1.0},
		{0.2, 0.1},
	}
	for _, tc := range cases {
		assert.Equal(t, Direction(tc.a, tc.b).Inverse(), Direction(tc.b, tc.a))
	}

	assert.Equal(t, DirectionShortReyaLongHL, Direction(1.0, -0.5))
	assert.Equal(t, DirectionLongReyaShortHL, Direction(-0.5, 1.0))
	// Equal rates short the hyperliquid side by convention.
	assert.Equal(t, DirectionLongReyaShortHL, Direction(0.01, 0.01))
}

func TestSpreadPercentageZeroReference(t *testing.T) {
	// Reference rate of zero must not divide by zero; the floor kicks in.
	got := SpreadPercentage(0.5, 0)
	assert.InDelta(t, 0.5/0.0001*100, got, 1e-9)
}

func TestIsProfitableSpreadInclusiveBounds(t *testing.T) {
	const min, max = 0.5, 10.0

	assert.True(t, IsProfitableSpread(min, min, max))
	assert.True(t, IsProfitableSpread(max, min, max))
	assert.True(t, IsProfitableSpread(3.2, min, max))
	assert.False(t, IsProfitableSpread(0.4999, min, max))
	assert.False(t, IsProfitableSpread(10.0001, min, max))
	assert.False(t, IsProfitableSpread(0, min, max))
}

func TestNewSpreadScenario(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Reya pays 1.0%, hyperliquid pays -0.5%.
	spread := NewSpread("BTC-USD", 1.0, -0.5, 0.3, 10.0, ts)

	require.Equal(t, "BTC-USD", spread.Symbol)
	assert.InDelta(t, 1.5, spread.Spread, 1e-9)
	assert.Equal(t, DirectionShortReyaLongHL, spread.Direction)
	assert.True(t, spread.Profitable)
	assert.Equal(t, ts, spread.Timestamp)
}

func TestNewSpreadIdenticalRates(t *testing.T) {
	spread := NewSpread("ETH-USD", 0.01, 0.01, 0.3, 10.0, time.Now())
	assert.Zero(t, spread.Spread)
	assert.False(t, spread.Profitable)
}

func TestRoundToPrecision(t *testing.T) {
	assert.Equal(t, 1234.57, RoundToPrecision(1234.567, 2))
	assert.Equal(t, 0.0137, RoundToPrecision(0.01369863, 4))
	// Half rounds away from zero.
	assert.Equal(t, 2.35, RoundToPrecision(2.345, 2))
	assert.Equal(t, -2.35, RoundToPrecision(-2.345, 2))
	assert.Equal(t, 3.0, RoundToPrecision(3.2, -1))
}

func TestSafeDivide(t *testing.T) {
	assert.Equal(t, 2.0, SafeDivide(10, 5, 0))
	assert.Equal(t, 0.0, SafeDivide(10, 0, 0))
	assert.Equal(t, -1.0, SafeDivide(10, 0, -1))
}
