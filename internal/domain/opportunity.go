package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// OpportunityType classifies the divergence an opportunity exploits.
type OpportunityType string

const (
	OpportunityFundingRate OpportunityType = "funding_rate"
	OpportunityPriceSpread OpportunityType = "price_spread"
	OpportunityBasisSpread OpportunityType = "basis_spread"
)

// OpportunityStatus is the opportunity lifecycle.
type OpportunityStatus string

const (
	OpportunityDetected  OpportunityStatus = "detected"
	OpportunityValidated OpportunityStatus = "validated"
	OpportunityExecuting OpportunityStatus = "executing"
	OpportunityExecuted  OpportunityStatus = "executed"
	OpportunityExpired   OpportunityStatus = "expired"
	OpportunityRejected  OpportunityStatus = "rejected"
)

// ArbitrageOpportunity is a scored, sized, time-boxed trade candidate built
// from a profitable spread. Created by the detector; the executor and the
// expiry sweep mutate its status. Once a record is published to handlers it
// is shared across goroutines: Status and ExecutedAt must then go through
// the guarded methods below, everything else is immutable. Records are
// always handled by pointer.
type ArbitrageOpportunity struct {
	mu sync.Mutex

	ID     string
	Type   OpportunityType
	Symbol string
	Status OpportunityStatus

	// Spread snapshot at detection time.
	ReyaRate         float64
	HyperliquidRate  float64
	Spread           float64
	SpreadPercentage float64
	Direction        SpreadDirection

	// Sizing.
	RecommendedSize float64
	MaxPositionSize float64

	// Risk metrics.
	ExpectedProfit  float64
	MaxLoss         float64
	RiskReward      float64
	ConfidenceScore float64

	// Timing.
	DetectedAt time.Time
	ExpiresAt  time.Time
	ExecutedAt time.Time

	// Per-venue intended exposure.
	ReyaAction        PositionAction
	HyperliquidAction PositionAction

	// Notes accumulate rejection reasons and execution remarks.
	Notes string
}

// OpportunityID derives the identity used for an opportunity detected from a
// spread snapshot.
func OpportunityID(symbol string, detectedAt time.Time) string {
	return fmt.Sprintf("%s_%d", symbol, detectedAt.Unix())
}

// AddNote appends a note fragment, matching the accumulated "reason; " style.
func (o *ArbitrageOpportunity) AddNote(note string) {
	o.Notes += note + "; "
}

// Expired reports whether the opportunity is past its expiry at the given time.
func (o *ArbitrageOpportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Active reports whether the opportunity is still consumable by the executor.
func (o *ArbitrageOpportunity) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Status == OpportunityDetected || o.Status == OpportunityValidated
}

// CurrentStatus returns the lifecycle status under the record lock.
func (o *ArbitrageOpportunity) CurrentStatus() OpportunityStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Status
}

// SetStatus transitions the lifecycle status under the record lock.
func (o *ArbitrageOpportunity) SetStatus(s OpportunityStatus) {
	o.mu.Lock()
	o.Status = s
	o.mu.Unlock()
}

// BeginExecution atomically claims a validated, unexpired opportunity for
// execution. A stale one is marked expired instead.
func (o *ArbitrageOpportunity) BeginExecution(now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Status != OpportunityValidated {
		return ErrNotValidated
	}
	if !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt) {
		o.Status = OpportunityExpired
		return ErrExpired
	}
	o.Status = OpportunityExecuting
	o.ExecutedAt = now
	return nil
}

// ExpireIfStale marks a still-consumable opportunity expired once it is past
// its expiry, reporting whether it did.
func (o *ArbitrageOpportunity) ExpireIfStale(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	consumable := o.Status == OpportunityDetected || o.Status == OpportunityValidated
	if consumable && !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt) {
		o.Status = OpportunityExpired
		return true
	}
	return false
}

// ExpireUnlessExecuted marks the opportunity expired unless it already ran to
// completion. Used by the expiry sweep.
func (o *ArbitrageOpportunity) ExpireUnlessExecuted() {
	o.mu.Lock()
	if o.Status != OpportunityExecuted {
		o.Status = OpportunityExpired
	}
	o.mu.Unlock()
}

// MarshalJSON snapshots the record under its lock. RiskReward is omitted when
// it is not finite (a zero max-loss estimate yields +Inf, which JSON cannot
// represent).
func (o *ArbitrageOpportunity) MarshalJSON() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	view := struct {
		ID                string
		Type              OpportunityType
		Symbol            string
		Status            OpportunityStatus
		ReyaRate          float64
		HyperliquidRate   float64
		Spread            float64
		SpreadPercentage  float64
		Direction         SpreadDirection
		RecommendedSize   float64
		MaxPositionSize   float64
		ExpectedProfit    float64
		MaxLoss           float64
		RiskReward        *float64 `json:",omitempty"`
		ConfidenceScore   float64
		DetectedAt        time.Time
		ExpiresAt         time.Time
		ExecutedAt        time.Time
		ReyaAction        PositionAction
		HyperliquidAction PositionAction
		Notes             string
	}{
		ID:                o.ID,
		Type:              o.Type,
		Symbol:            o.Symbol,
		Status:            o.Status,
		ReyaRate:          o.ReyaRate,
		HyperliquidRate:   o.HyperliquidRate,
		Spread:            o.Spread,
		SpreadPercentage:  o.SpreadPercentage,
		Direction:         o.Direction,
		RecommendedSize:   o.RecommendedSize,
		MaxPositionSize:   o.MaxPositionSize,
		ExpectedProfit:    o.ExpectedProfit,
		MaxLoss:           o.MaxLoss,
		ConfidenceScore:   o.ConfidenceScore,
		DetectedAt:        o.DetectedAt,
		ExpiresAt:         o.ExpiresAt,
		ExecutedAt:        o.ExecutedAt,
		ReyaAction:        o.ReyaAction,
		HyperliquidAction: o.HyperliquidAction,
		Notes:             o.Notes,
	}
	if !math.IsInf(o.RiskReward, 0) && !math.IsNaN(o.RiskReward) {
		rr := o.RiskReward
		view.RiskReward = &rr
	}
	return json.Marshal(view)
}

// Score ranks opportunities when picking the best one.
func (o *ArbitrageOpportunity) Score() float64 {
	if math.IsInf(o.RiskReward, 1) {
		return math.Inf(1)
	}
	return o.RiskReward * o.ConfidenceScore
}
