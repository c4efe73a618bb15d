package domain

import "time"

// EngineStats holds the engine's aggregate counters. Written by the engine's
// periodic refresh and execution handlers only.
type EngineStats struct {
	UptimeSeconds         float64
	OpportunitiesDetected int
	OpportunitiesExecuted int
	TotalPnL              float64
	SuccessRate           float64
	LastOpportunityTime   time.Time
	ActivePositions       int
	ErrorCount            int
}

// DetectorStats summarizes the detector's opportunity tables.
type DetectorStats struct {
	TotalDetected     int
	Active            int
	Executed          int
	SuccessRate       float64
	AverageConfidence float64
}

// ExecutorStats summarizes the executor's execution table.
type ExecutorStats struct {
	TotalExecutions     int
	CompletedExecutions int
	SuccessRate         float64
	TotalPnL            float64
	TotalCost           float64
	NetPnL              float64
	AverageSlippage     float64
}

// MonitorStatus is the rate monitor's status summary.
type MonitorStatus struct {
	Running                 bool
	TotalPairs              int
	ActivePairs             int
	MonitoredPairs          int
	ProfitableOpportunities int
	LastUpdate              time.Time
}
