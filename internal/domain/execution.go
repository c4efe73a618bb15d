package domain

import "time"

// ExecutionStatus is the execution lifecycle. At most one execution is in
// Pending or Partial state system-wide at any instant.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionPartial   ExecutionStatus = "partial"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution reached a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// TradeExecution records one two-legged execution attempt. Created and
// mutated only by the executor; retained for the process lifetime.
type TradeExecution struct {
	ID            string
	OpportunityID string
	Symbol        string
	Status        ExecutionStatus

	// Per-venue order handles; nil when placement failed or never ran.
	ReyaOrder        *Order
	HyperliquidOrder *Order

	PlannedSize       float64
	ExecutedSize      float64
	AvgEntryPriceReya float64
	AvgEntryPriceHL   float64

	StartedAt   time.Time
	CompletedAt time.Time

	RealizedPnL   float64
	ExecutionCost float64
	Slippage      float64

	Notes        string
	ErrorMessage string
}

// Active reports whether the execution still occupies the single-flight slot's
// accounting (orders placed, fills pending).
func (e *TradeExecution) Active() bool {
	return e.Status == ExecutionPending || e.Status == ExecutionPartial
}
