package detector

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/exchange/exchangetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func btcPair() config.TradingPair {
	return config.TradingPair{
		Symbol:             "BTC-USD",
		ReyaSymbol:         "BTC-rUSD",
		HyperliquidSymbol:  "BTC",
		Enabled:            true,
		MinFundingRateDiff: 0.3,
		MaxPosition:        2000,
	}
}

func newTestDetector(t *testing.T, risk config.RiskConfig, balance float64) (*Detector, *exchangetest.FakeClient, *exchangetest.FakeClient) {
	t.Helper()
	reya := exchangetest.NewFake("reya", balance)
	hl := exchangetest.NewFake("hyperliquid", balance)

	d := New(Config{
		Reya:               reya,
		Hyperliquid:        hl,
		Pairs:              []config.TradingPair{btcPair()},
		Risk:               risk,
		FundingPeriodHours: 8,
		Logger:             testLogger(),
	})
	return d, reya, hl
}

func defaultRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxTotalPosition:   10000,
		MaxPositionPerPair: 2000,
		MinTradeAmount:     100,
	}
}

// zeroCapitalRisk gives a setup where sizing resolves to zero, the max-loss
// estimate is exactly zero, and risk/reward becomes infinite. The only path
// through the risk/reward gate.
func zeroCapitalRisk() config.RiskConfig {
	return config.RiskConfig{MaxTotalPosition: 10000, MaxPositionPerPair: 2000}
}

func spreadFor(symbol string, reyaRate, hlRate float64) domain.FundingRateSpread {
	return domain.NewSpread(symbol, reyaRate, hlRate, 0.3, 10.0, time.Now().UTC())
}

func TestAnalyzeSpreadBelowThresholdIsNonEvent(t *testing.T) {
	d, _, _ := newTestDetector(t, defaultRisk(), 5000)

	spread := spreadFor("BTC-USD", 0.15, 0.05) // 0.1 < 0.3 minimum
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	// Non-events leave no trace, not even a rejected record.
	_, ok := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	assert.False(t, ok)
	assert.Zero(t, d.Statistics().TotalDetected)
}

func TestAnalyzeSpreadUnknownSymbolIsNonEvent(t *testing.T) {
	d, _, _ := newTestDetector(t, defaultRisk(), 5000)

	opp, err := d.AnalyzeSpread(context.Background(), spreadFor("DOGE-USD", 1.0, -0.5))
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestCandidateSizingAndActions(t *testing.T) {
	d, _, _ := newTestDetector(t, defaultRisk(), 5000)

	// Reya pays 1%, hyperliquid pays -0.5%: short reya, long hyperliquid.
	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	// The funding-period profit estimate cannot cover the doubled loss
	// buffer, so the candidate fails the risk/reward gate.
	assert.Nil(t, opp)

	candidate, ok := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.True(t, ok)
	assert.Equal(t, domain.OpportunityRejected, candidate.Status)
	assert.Contains(t, candidate.Notes, "Poor risk/reward ratio")

	assert.Equal(t, domain.ActionShort, candidate.ReyaAction)
	assert.Equal(t, domain.ActionLong, candidate.HyperliquidAction)

	// Sizing: capital min(5000,5000) capped at pair max 2000, spread factor
	// min(1.5, 1.0), halved -> 1000.
	assert.Equal(t, 1000.0, candidate.RecommendedSize)
	assert.Equal(t, 2000.0, candidate.MaxPositionSize)
	assert.GreaterOrEqual(t, candidate.RecommendedSize, 100.0)
	assert.LessOrEqual(t, candidate.RecommendedSize, 2000.0)

	// Expected profit for one 8h period of a 1.5 pt spread on 1000.
	assert.InDelta(t, 0.0137, candidate.ExpectedProfit, 1e-9)
	assert.InDelta(t, 1.0274, candidate.MaxLoss, 1e-9)
	assert.False(t, math.IsInf(candidate.RiskReward, 1))
	assert.GreaterOrEqual(t, candidate.RiskReward, 0.0)
}

func TestSpreadFactorScalesSize(t *testing.T) {
	d, _, _ := newTestDetector(t, defaultRisk(), 5000)

	spread := spreadFor("BTC-USD", 0.5, 0.0) // factor 0.5
	_, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)

	candidate, ok := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.True(t, ok)
	assert.Equal(t, 500.0, candidate.RecommendedSize)
}

func TestLowConfidenceRejectedFirst(t *testing.T) {
	d, _, _ := newTestDetector(t, defaultRisk(), 5000)

	// Spread exactly at the pair minimum scores 0.43, below the 0.7 floor.
	spread := spreadFor("BTC-USD", 0.3, 0.0)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	candidate, ok := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.True(t, ok)
	assert.Contains(t, candidate.Notes, "Low confidence score")
	assert.NotContains(t, candidate.Notes, "Poor risk/reward ratio")
}

func TestValidatedOpportunityNotifiesHandlers(t *testing.T) {
	d, _, _ := newTestDetector(t, zeroCapitalRisk(), 0)

	var handled []*domain.ArbitrageOpportunity
	d.AddValidatedHandler(func(ctx context.Context, opp *domain.ArbitrageOpportunity) error {
		handled = append(handled, opp)
		return nil
	})

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, domain.OpportunityValidated, opp.Status)
	assert.True(t, math.IsInf(opp.RiskReward, 1))
	assert.InDelta(t, 0.82, opp.ConfidenceScore, 1e-9)
	assert.Equal(t, spread.Timestamp.Add(5*time.Minute), opp.ExpiresAt)

	require.Len(t, handled, 1)
	assert.Same(t, opp, handled[0])

	active := d.ActiveOpportunities()
	require.Len(t, active, 1)
	assert.Same(t, opp, d.BestOpportunity())

	stats := d.Statistics()
	assert.Equal(t, 1, stats.TotalDetected)
	assert.Equal(t, 1, stats.Active)
}

func TestConflictingPositionRejects(t *testing.T) {
	d, reya, _ := newTestDetector(t, zeroCapitalRisk(), 0)
	reya.Positions = []domain.Position{{Symbol: "BTC-USD", Size: 1.5}}

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	candidate, ok := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.True(t, ok)
	assert.Contains(t, candidate.Notes, "Conflicting positions exist")
}

func TestPositionCheckErrorTreatedAsConflict(t *testing.T) {
	d, _, hl := newTestDetector(t, zeroCapitalRisk(), 0)
	hl.PositionsErr = domain.ErrNotConnected

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	candidate, _ := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.NotNil(t, candidate)
	assert.Contains(t, candidate.Notes, "Conflicting positions exist")
}

func TestUnhealthyVenueRejects(t *testing.T) {
	d, _, hl := newTestDetector(t, zeroCapitalRisk(), 0)
	hl.Healthy = false

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	candidate, _ := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.NotNil(t, candidate)
	assert.Contains(t, candidate.Notes, "Exchange connectivity issues")
}

func TestSizeBelowMinimumRejects(t *testing.T) {
	// Zero capital but a nonzero trade floor: size resolves to zero, passes
	// the infinite risk/reward gate, and then fails the size check.
	risk := config.RiskConfig{MaxTotalPosition: 10000, MaxPositionPerPair: 2000, MinTradeAmount: 100}
	d, _, _ := newTestDetector(t, risk, 0)

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	assert.Nil(t, opp)

	candidate, _ := d.OpportunityByID(domain.OpportunityID("BTC-USD", spread.Timestamp))
	require.NotNil(t, candidate)
	assert.Contains(t, candidate.Notes, "Position size too small")
}

func TestBalanceErrorPropagates(t *testing.T) {
	d, reya, _ := newTestDetector(t, defaultRisk(), 5000)
	reya.BalanceErr = domain.ErrNotConnected

	_, err := d.AnalyzeSpread(context.Background(), spreadFor("BTC-USD", 1.0, -0.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestCleanupExpired(t *testing.T) {
	d, _, _ := newTestDetector(t, zeroCapitalRisk(), 0)

	spread := spreadFor("BTC-USD", 1.0, -0.5)
	opp, err := d.AnalyzeSpread(context.Background(), spread)
	require.NoError(t, err)
	require.NotNil(t, opp)

	// Not yet expired: sweep is a no-op.
	assert.Zero(t, d.CleanupExpired(time.Now().UTC()))
	assert.Len(t, d.ActiveOpportunities(), 1)

	swept := d.CleanupExpired(time.Now().UTC().Add(10 * time.Minute))
	assert.Equal(t, 1, swept)
	assert.Empty(t, d.ActiveOpportunities())

	// Moved to history, marked expired.
	got, ok := d.OpportunityByID(opp.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OpportunityExpired, got.Status)
}

func TestCleanupExpiredKeepsExecutedStatus(t *testing.T) {
	d, _, _ := newTestDetector(t, zeroCapitalRisk(), 0)

	opp, err := d.AnalyzeSpread(context.Background(), spreadFor("BTC-USD", 1.0, -0.5))
	require.NoError(t, err)
	require.NotNil(t, opp)

	opp.Status = domain.OpportunityExecuted
	d.CleanupExpired(time.Now().UTC().Add(10 * time.Minute))

	got, ok := d.OpportunityByID(opp.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OpportunityExecuted, got.Status)
}
