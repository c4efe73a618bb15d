// Package detector converts profitable funding-rate spreads into scored,
// sized, time-boxed arbitrage opportunities, and validates them against risk
// and conflicting-position rules.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/exchange"
)

// Scoring and validation constants. The confidence blend weights are tunable
// constants, not learned parameters.
const (
	minConfidenceScore = 0.7
	minRiskReward      = 1.5

	spreadReferencePct    = 2.0 // spread magnitude normalized to a 2% spread
	thresholdRatioCap     = 2.0
	marketConditionScore  = 0.7
	historicalScore       = 0.8
	weightSpreadMagnitude = 0.4
	weightThresholdRatio  = 0.3
	weightMarket          = 0.2
	weightHistory         = 0.1

	conservativeSizing = 0.5   // halve the capped capital
	executionCostRate  = 0.001 // flat 0.1% execution-cost buffer

	opportunityTimeout = 5 * time.Minute
)

// ValidatedHandler receives opportunities that passed all validation gates.
type ValidatedHandler func(ctx context.Context, opp *domain.ArbitrageOpportunity) error

// Config configures the detector.
type Config struct {
	Reya               exchange.Client
	Hyperliquid        exchange.Client
	Pairs              []config.TradingPair
	Risk               config.RiskConfig
	FundingPeriodHours float64
	Logger             *slog.Logger
}

// Detector owns the in-memory opportunity table until expiry, after which
// opportunities move to an append-only history list.
type Detector struct {
	reya          exchange.Client
	hyperliquid   exchange.Client
	pairs         []config.TradingPair
	risk          config.RiskConfig
	fundingPeriod float64

	logger *slog.Logger

	mu            sync.Mutex
	opportunities map[string]*domain.ArbitrageOpportunity
	history       []*domain.ArbitrageOpportunity

	validatedHandlers []ValidatedHandler
}

// New creates a detector.
func New(cfg Config) *Detector {
	period := cfg.FundingPeriodHours
	if period <= 0 {
		period = 8
	}
	return &Detector{
		reya:          cfg.Reya,
		hyperliquid:   cfg.Hyperliquid,
		pairs:         cfg.Pairs,
		risk:          cfg.Risk,
		fundingPeriod: period,
		logger:        cfg.Logger.With(slog.String("component", "opportunity_detector")),
		opportunities: make(map[string]*domain.ArbitrageOpportunity),
	}
}

// AddValidatedHandler registers a handler invoked for every opportunity that
// passes validation, in registration order.
func (d *Detector) AddValidatedHandler(h ValidatedHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validatedHandlers = append(d.validatedHandlers, h)
}

// AnalyzeSpread builds and validates an opportunity from a spread. A spread
// below the pair's minimum threshold is a non-event and returns (nil, nil).
// Candidates that fail validation are marked rejected and kept in history;
// they also return nil.
func (d *Detector) AnalyzeSpread(ctx context.Context, spread domain.FundingRateSpread) (*domain.ArbitrageOpportunity, error) {
	pair, ok := d.pairConfig(spread.Symbol)
	if !ok {
		d.logger.Warn("no configuration found for symbol", slog.String("symbol", spread.Symbol))
		return nil, nil
	}

	if spread.Spread < pair.MinFundingRateDiff {
		return nil, nil
	}

	opp, err := d.createOpportunity(ctx, spread, pair)
	if err != nil {
		return nil, fmt.Errorf("opportunity_detector: analyze %s: %w", spread.Symbol, err)
	}

	if !d.validate(ctx, opp) {
		opp.Status = domain.OpportunityRejected
		d.mu.Lock()
		d.history = append(d.history, opp)
		d.mu.Unlock()
		d.logger.Debug("opportunity rejected",
			slog.String("id", opp.ID),
			slog.String("notes", opp.Notes),
		)
		return nil, nil
	}

	opp.Status = domain.OpportunityValidated

	d.mu.Lock()
	d.opportunities[opp.ID] = opp
	handlers := append([]ValidatedHandler(nil), d.validatedHandlers...)
	d.mu.Unlock()

	d.logger.Info("new arbitrage opportunity",
		slog.String("symbol", opp.Symbol),
		slog.Float64("spread", opp.Spread),
		slog.Float64("confidence", opp.ConfidenceScore),
	)

	for _, h := range handlers {
		if err := h(ctx, opp); err != nil {
			d.logger.Error("validated-opportunity handler failed",
				slog.String("id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return opp, nil
}

func (d *Detector) createOpportunity(ctx context.Context, spread domain.FundingRateSpread, pair config.TradingPair) (*domain.ArbitrageOpportunity, error) {
	reyaAction, hlAction := domain.ActionLong, domain.ActionShort
	if spread.Direction == domain.DirectionShortReyaLongHL {
		reyaAction, hlAction = domain.ActionShort, domain.ActionLong
	}

	recommended, maxSize, err := d.positionSizing(ctx, spread.Spread, pair)
	if err != nil {
		return nil, err
	}

	expectedProfit := d.estimateProfit(spread.Spread, recommended)
	maxLoss := d.estimateMaxLoss(spread.Spread, recommended)
	riskReward := math.Inf(1)
	if maxLoss != 0 {
		riskReward = math.Abs(expectedProfit / maxLoss)
	}

	return &domain.ArbitrageOpportunity{
		ID:                domain.OpportunityID(spread.Symbol, spread.Timestamp),
		Type:              domain.OpportunityFundingRate,
		Symbol:            spread.Symbol,
		Status:            domain.OpportunityDetected,
		ReyaRate:          spread.ReyaRate,
		HyperliquidRate:   spread.HyperliquidRate,
		Spread:            spread.Spread,
		SpreadPercentage:  spread.SpreadPercentage,
		Direction:         spread.Direction,
		RecommendedSize:   recommended,
		MaxPositionSize:   maxSize,
		ExpectedProfit:    expectedProfit,
		MaxLoss:           maxLoss,
		RiskReward:        riskReward,
		ConfidenceScore:   d.confidenceScore(spread.Spread, pair),
		DetectedAt:        spread.Timestamp,
		ExpiresAt:         spread.Timestamp.Add(opportunityTimeout),
		ReyaAction:        reyaAction,
		HyperliquidAction: hlAction,
	}, nil
}

// positionSizing derives the recommended and maximum sizes from the free
// stable-currency balance on both venues, capped by the global and per-pair
// limits, scaled conservatively by spread magnitude.
func (d *Detector) positionSizing(ctx context.Context, spread float64, pair config.TradingPair) (recommended, maxSize float64, err error) {
	reyaBalances, err := d.reya.GetBalance(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reya balance: %w", err)
	}
	hlBalances, err := d.hyperliquid.GetBalance(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("hyperliquid balance: %w", err)
	}

	available := math.Min(domain.StableAvailable(reyaBalances), domain.StableAvailable(hlBalances))

	maxTotal := math.Min(available, d.risk.MaxTotalPosition)
	maxPair := math.Min(maxTotal, pair.MaxPosition)

	// Higher spread means a larger position, normalized against a 1% spread
	// and halved for conservative sizing.
	spreadFactor := math.Min(spread/1.0, 1.0)
	size := maxPair * spreadFactor * conservativeSizing

	size = math.Max(size, d.risk.MinTradeAmount)
	size = math.Min(size, maxPair)

	return domain.RoundToPrecision(size, 2), domain.RoundToPrecision(maxPair, 2), nil
}

// estimateProfit converts the period spread into expected profit for one
// funding period.
func (d *Detector) estimateProfit(spread, size float64) float64 {
	const annualHours = 365 * 24
	periodSpread := spread * (d.fundingPeriod / annualHours)
	return domain.RoundToPrecision(size*(periodSpread/100), 4)
}

// estimateMaxLoss assumes a full funding-rate reversal plus execution costs.
func (d *Detector) estimateMaxLoss(spread, size float64) float64 {
	expected := d.estimateProfit(spread, size)
	loss := math.Abs(expected)*2 + size*executionCostRate
	return domain.RoundToPrecision(loss, 4)
}

// confidenceScore blends spread magnitude, threshold headroom, and fixed
// market/history baselines into a score in [0, 1].
func (d *Detector) confidenceScore(spread float64, pair config.TradingPair) float64 {
	spreadScore := math.Min(spread/spreadReferencePct, 1.0)

	thresholdScore := thresholdRatioCap
	if pair.MinFundingRateDiff > 0 {
		thresholdScore = math.Min(spread/pair.MinFundingRateDiff, thresholdRatioCap)
	}
	thresholdScore /= thresholdRatioCap

	score := spreadScore*weightSpreadMagnitude +
		thresholdScore*weightThresholdRatio +
		marketConditionScore*weightMarket +
		historicalScore*weightHistory

	return math.Min(score, 1.0)
}

// validate runs the gate checks in order, short-circuiting on the first
// failure. Failure reasons accumulate in the opportunity notes.
func (d *Detector) validate(ctx context.Context, opp *domain.ArbitrageOpportunity) bool {
	if opp.ConfidenceScore < minConfidenceScore {
		opp.AddNote("Low confidence score")
		return false
	}

	if opp.RiskReward < minRiskReward {
		opp.AddNote("Poor risk/reward ratio")
		return false
	}

	if d.hasConflictingPositions(ctx, opp.Symbol) {
		opp.AddNote("Conflicting positions exist")
		return false
	}

	if !d.exchangesHealthy(ctx) {
		opp.AddNote("Exchange connectivity issues")
		return false
	}

	if opp.RecommendedSize < d.risk.MinTradeAmount {
		opp.AddNote("Position size too small")
		return false
	}

	return true
}

// hasConflictingPositions reports whether either venue already holds a
// nonzero position in the symbol. A failed position check counts as a
// conflict.
func (d *Detector) hasConflictingPositions(ctx context.Context, symbol string) bool {
	reyaPositions, err := d.reya.GetPositions(ctx)
	if err != nil {
		d.logger.Error("position check failed",
			slog.String("venue", "reya"),
			slog.String("error", err.Error()),
		)
		return true
	}
	hlPositions, err := d.hyperliquid.GetPositions(ctx)
	if err != nil {
		d.logger.Error("position check failed",
			slog.String("venue", "hyperliquid"),
			slog.String("error", err.Error()),
		)
		return true
	}

	for _, pos := range append(reyaPositions, hlPositions...) {
		if pos.Symbol == symbol && math.Abs(pos.Size) > 0 {
			return true
		}
	}
	return false
}

func (d *Detector) exchangesHealthy(ctx context.Context) bool {
	return d.reya.HealthCheck(ctx) && d.hyperliquid.HealthCheck(ctx)
}

func (d *Detector) pairConfig(symbol string) (config.TradingPair, bool) {
	for _, p := range d.pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return config.TradingPair{}, false
}

// CleanupExpired sweeps the live table: every opportunity past its expiry is
// moved to history and removed from the active set regardless of its current
// status. Executed opportunities keep their status; everything else is
// marked expired.
func (d *Detector) CleanupExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []string
	for id, opp := range d.opportunities {
		if !opp.Expired(now) {
			continue
		}
		opp.ExpireUnlessExecuted()
		d.history = append(d.history, opp)
		expired = append(expired, id)
	}
	for _, id := range expired {
		delete(d.opportunities, id)
	}

	if len(expired) > 0 {
		d.logger.Info("cleaned up expired opportunities", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// ActiveOpportunities returns opportunities in detected or validated state.
func (d *Detector) ActiveOpportunities() []*domain.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.ArbitrageOpportunity
	for _, opp := range d.opportunities {
		if opp.Active() {
			out = append(out, opp)
		}
	}
	return out
}

// OpportunityByID looks up an opportunity in the live table, falling back to
// history.
func (d *Detector) OpportunityByID(id string) (*domain.ArbitrageOpportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opp, ok := d.opportunities[id]; ok {
		return opp, true
	}
	for _, opp := range d.history {
		if opp.ID == id {
			return opp, true
		}
	}
	return nil, false
}

// OpportunitiesForSymbol returns every live opportunity for a symbol.
func (d *Detector) OpportunitiesForSymbol(symbol string) []*domain.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.ArbitrageOpportunity
	for _, opp := range d.opportunities {
		if opp.Symbol == symbol {
			out = append(out, opp)
		}
	}
	return out
}

// BestOpportunity returns the active opportunity with the highest
// risk/reward weighted by confidence, or nil when none are active.
func (d *Detector) BestOpportunity() *domain.ArbitrageOpportunity {
	active := d.ActiveOpportunities()
	if len(active) == 0 {
		return nil
	}
	best := active[0]
	for _, opp := range active[1:] {
		if opp.Score() > best.Score() {
			best = opp
		}
	}
	return best
}

// Statistics summarizes the detector tables.
func (d *Detector) Statistics() domain.DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := domain.DetectorStats{
		TotalDetected: len(d.opportunities) + len(d.history),
	}

	var confidenceSum float64
	for _, opp := range d.opportunities {
		switch opp.CurrentStatus() {
		case domain.OpportunityDetected, domain.OpportunityValidated:
			stats.Active++
		case domain.OpportunityExecuted:
			stats.Executed++
		}
		confidenceSum += opp.ConfidenceScore
	}
	for _, opp := range d.history {
		if opp.CurrentStatus() == domain.OpportunityExecuted {
			stats.Executed++
		}
	}

	if stats.TotalDetected > 0 {
		stats.SuccessRate = float64(stats.Executed) / float64(stats.TotalDetected)
	}
	if len(d.opportunities) > 0 {
		stats.AverageConfidence = confidenceSum / float64(len(d.opportunities))
	}
	return stats
}
