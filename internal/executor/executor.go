// Package executor runs validated opportunities as two concurrent per-venue
// market orders, tracks fill progress, and computes execution results. At
// most one execution is in flight at any time; extra requests are queued by
// opportunity id and redriven when the slot frees up.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/exchange"
)

// Execution constants. The order-level timeout bounds a single venue order;
// the execution timeout bounds the whole two-legged attempt.
const (
	defaultPollInterval     = 1 * time.Second
	defaultExecutionTimeout = 120 * time.Second
	orderTimeout            = 30 * time.Second
	maxSlippage             = 0.005

	marginRate = 0.1 // required margin, assuming 10x leverage

	simFillPrice   = 50000.0
	simPnLFraction = 0.8   // realized PnL as a share of expected (models friction)
	simCostRate    = 0.001 // flat 0.1% cost
	simSlippage    = 0.002 // flat 0.2% slippage

	liveFeeRate = 0.0005 // flat 0.05% fee per filled leg
)

// OpportunityResolver maps a queued opportunity id back to its live object.
// Wired by the engine to the detector's lookup.
type OpportunityResolver func(id string) (*domain.ArbitrageOpportunity, bool)

// ResultHandler receives every finished execution, including queue-drained
// ones that never return through the caller that queued them.
type ResultHandler func(ctx context.Context, exec *domain.TradeExecution)

// Config configures the executor.
type Config struct {
	Reya        exchange.Client
	Hyperliquid exchange.Client
	Risk        config.RiskConfig
	DryRun      bool
	Logger      *slog.Logger
}

// Executor serializes trade execution through a single-flight slot.
type Executor struct {
	reya        exchange.Client
	hyperliquid exchange.Client
	risk        config.RiskConfig
	dryRun      bool
	logger      *slog.Logger

	simulateDelay    time.Duration
	pollInterval     time.Duration
	executionTimeout time.Duration

	resolver OpportunityResolver

	// mu guards the slot, the queue, the execution table, and every field of
	// the TradeExecution records in it. Query methods return deep copies.
	mu             sync.Mutex
	executing      bool
	executions     map[string]*domain.TradeExecution
	queue          []string // FIFO of opportunity ids
	resultHandlers []ResultHandler
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{
		reya:             cfg.Reya,
		hyperliquid:      cfg.Hyperliquid,
		risk:             cfg.Risk,
		dryRun:           cfg.DryRun,
		logger:           cfg.Logger.With(slog.String("component", "trade_executor"), slog.Bool("dry_run", cfg.DryRun)),
		simulateDelay:    2 * time.Second,
		pollInterval:     defaultPollInterval,
		executionTimeout: defaultExecutionTimeout,
		executions:       make(map[string]*domain.TradeExecution),
	}
}

// SetResolver wires the opportunity lookup used for queue redriving. Must be
// called before Execute.
func (e *Executor) SetResolver(r OpportunityResolver) {
	e.resolver = r
}

// AddResultHandler registers a handler invoked after every execution attempt
// that produced a record, in registration order.
func (e *Executor) AddResultHandler(h ResultHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resultHandlers = append(e.resultHandlers, h)
}

func (e *Executor) notifyResult(ctx context.Context, exec *domain.TradeExecution) {
	e.mu.Lock()
	handlers := append([]ResultHandler(nil), e.resultHandlers...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(ctx, exec)
	}
}

// SetSimulationDelay overrides the dry-run fill delay. Intended for tests.
func (e *Executor) SetSimulationDelay(d time.Duration) {
	e.simulateDelay = d
}

// SetTimeouts overrides the fill-poll interval and total execution ceiling.
// Intended for tests; must be called before Execute.
func (e *Executor) SetTimeouts(pollInterval, executionTimeout time.Duration) {
	e.pollInterval = pollInterval
	e.executionTimeout = executionTimeout
}

// Execute runs one validated opportunity. When an execution is already in
// flight the opportunity id is queued and (nil, nil) is returned; the queue
// is drained automatically whenever the in-flight execution finishes.
func (e *Executor) Execute(ctx context.Context, opp *domain.ArbitrageOpportunity) (*domain.TradeExecution, error) {
	e.mu.Lock()
	if e.executing {
		e.queue = append(e.queue, opp.ID)
		e.mu.Unlock()
		e.logger.Warn("executor busy, queueing opportunity", slog.String("opportunity_id", opp.ID))
		return nil, nil
	}
	e.executing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.executing = false
		e.mu.Unlock()
		e.drainQueue(ctx)
	}()

	if err := e.preExecutionValidation(ctx, opp); err != nil {
		return nil, err
	}
	if err := opp.BeginExecution(time.Now().UTC()); err != nil {
		return nil, err
	}

	exec := e.newExecution(opp)
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	e.logger.Info("starting execution",
		slog.String("execution_id", exec.ID),
		slog.String("opportunity_id", opp.ID),
		slog.Float64("size", exec.PlannedSize),
	)

	if e.dryRun {
		e.simulate(ctx, exec, opp)
		e.notifyResult(ctx, exec)
		return exec, nil
	}

	if err := e.executeLive(ctx, exec, opp); err != nil {
		e.mu.Lock()
		// An emergency cancellation takes precedence over the failure.
		if exec.Status != domain.ExecutionCancelled {
			exec.Status = domain.ExecutionFailed
			exec.ErrorMessage = err.Error()
		}
		e.mu.Unlock()
		e.cancelLegs(exec)
		e.logger.Error("live execution failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()),
		)
	}
	e.notifyResult(ctx, exec)
	return exec, nil
}

// preExecutionValidation re-checks the opportunity immediately before
// spending money on it. Any failure aborts with no execution record created.
func (e *Executor) preExecutionValidation(ctx context.Context, opp *domain.ArbitrageOpportunity) error {
	if opp.CurrentStatus() != domain.OpportunityValidated {
		e.logger.Warn("opportunity not validated", slog.String("opportunity_id", opp.ID))
		return domain.ErrNotValidated
	}

	if opp.ExpireIfStale(time.Now().UTC()) {
		e.logger.Warn("opportunity expired before execution", slog.String("opportunity_id", opp.ID))
		return domain.ErrExpired
	}

	if !e.reya.HealthCheck(ctx) || !e.hyperliquid.HealthCheck(ctx) {
		e.logger.Error("exchange health check failed before execution")
		return domain.ErrUnhealthyVenue
	}

	ok, err := e.sufficientBalance(ctx, opp)
	if err != nil {
		e.logger.Error("balance check failed", slog.String("error", err.Error()))
		return domain.ErrInsufficientBal
	}
	if !ok {
		e.logger.Error("insufficient balance for execution", slog.String("opportunity_id", opp.ID))
		return domain.ErrInsufficientBal
	}
	return nil
}

func (e *Executor) sufficientBalance(ctx context.Context, opp *domain.ArbitrageOpportunity) (bool, error) {
	reyaBalances, err := e.reya.GetBalance(ctx)
	if err != nil {
		return false, fmt.Errorf("trade_executor: reya balance: %w", err)
	}
	hlBalances, err := e.hyperliquid.GetBalance(ctx)
	if err != nil {
		return false, fmt.Errorf("trade_executor: hyperliquid balance: %w", err)
	}

	requiredMargin := opp.RecommendedSize * marginRate
	return domain.StableAvailable(reyaBalances) >= requiredMargin &&
		domain.StableAvailable(hlBalances) >= requiredMargin, nil
}

func (e *Executor) newExecution(opp *domain.ArbitrageOpportunity) *domain.TradeExecution {
	return &domain.TradeExecution{
		ID:            fmt.Sprintf("exec_%s_%s", opp.ID, uuid.NewString()[:8]),
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Status:        domain.ExecutionPending,
		PlannedSize:   opp.RecommendedSize,
		StartedAt:     time.Now().UTC(),
	}
}

// simulate fills both legs at a placeholder price after a fixed delay.
// Realized PnL models friction as 80% of the expected profit.
func (e *Executor) simulate(ctx context.Context, exec *domain.TradeExecution, opp *domain.ArbitrageOpportunity) {
	e.logger.Info("simulation: executing arbitrage",
		slog.String("symbol", opp.Symbol),
		slog.String("reya_action", string(opp.ReyaAction)),
		slog.String("hyperliquid_action", string(opp.HyperliquidAction)),
		slog.Float64("size", exec.PlannedSize),
	)

	select {
	case <-ctx.Done():
	case <-time.After(e.simulateDelay):
	}

	e.mu.Lock()
	if exec.Status == domain.ExecutionCancelled {
		e.mu.Unlock()
		return
	}
	exec.Status = domain.ExecutionCompleted
	exec.ExecutedSize = exec.PlannedSize
	exec.AvgEntryPriceReya = simFillPrice
	exec.AvgEntryPriceHL = simFillPrice
	exec.CompletedAt = time.Now().UTC()
	exec.RealizedPnL = opp.ExpectedProfit * simPnLFraction
	exec.ExecutionCost = exec.PlannedSize * simCostRate
	exec.Slippage = simSlippage
	e.mu.Unlock()

	opp.SetStatus(domain.OpportunityExecuted)

	e.logger.Info("simulation: execution completed",
		slog.String("execution_id", exec.ID),
		slog.Float64("realized_pnl", exec.RealizedPnL),
	)
}

// executeLive places a market order on each venue concurrently, polls fills
// until both legs complete or the execution ceiling elapses, then computes
// result metrics. A single leg's placement failure is recorded and leaves
// its order reference nil; the other leg proceeds.
func (e *Executor) executeLive(ctx context.Context, exec *domain.TradeExecution, opp *domain.ArbitrageOpportunity) error {
	reyaSide := domain.OrderSideFor(opp.ReyaAction)
	hlSide := domain.OrderSideFor(opp.HyperliquidAction)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		order := e.placeOrder(ctx, e.reya, opp.Symbol, reyaSide, exec.PlannedSize)
		e.mu.Lock()
		exec.ReyaOrder = order
		e.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		order := e.placeOrder(ctx, e.hyperliquid, opp.Symbol, hlSide, exec.PlannedSize)
		e.mu.Lock()
		exec.HyperliquidOrder = order
		e.mu.Unlock()
	}()
	wg.Wait()

	if exec.ReyaOrder == nil && exec.HyperliquidOrder == nil {
		e.mu.Lock()
		exec.Status = domain.ExecutionFailed
		exec.ErrorMessage = "order placement failed on both venues"
		e.mu.Unlock()
		return nil
	}

	e.monitorFills(ctx, exec)
	e.computeResults(exec)

	e.mu.Lock()
	completed := exec.Status == domain.ExecutionCompleted
	e.mu.Unlock()
	if completed {
		opp.SetStatus(domain.OpportunityExecuted)
	}
	return ctx.Err()
}

func (e *Executor) placeOrder(ctx context.Context, client exchange.Client, symbol string, side domain.OrderSide, amount float64) *domain.Order {
	venueSymbol := client.NormalizeSymbol(symbol)
	order, err := client.PlaceOrder(ctx, venueSymbol, side, amount, domain.OrderTypeMarket, 0)
	if err != nil {
		e.logger.Error("order placement failed",
			slog.String("venue", client.Name()),
			slog.String("symbol", venueSymbol),
			slog.String("side", string(side)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	e.logger.Info("order placed",
		slog.String("venue", client.Name()),
		slog.String("order_id", order.ID),
	)
	return order
}

// monitorFills busy-waits on both order statuses at the poll interval until
// both legs fill or the execution ceiling elapses. Neither venue pushes fill
// events, so polling is the only option.
func (e *Executor) monitorFills(ctx context.Context, exec *domain.TradeExecution) {
	deadline := time.Now().Add(e.executionTimeout)

	for time.Now().Before(deadline) {
		reyaFilled := e.orderFilled(ctx, e.reya, exec.ReyaOrder)
		hlFilled := e.orderFilled(ctx, e.hyperliquid, exec.HyperliquidOrder)

		if reyaFilled && hlFilled {
			e.mu.Lock()
			if exec.Status != domain.ExecutionCancelled {
				exec.Status = domain.ExecutionCompleted
				exec.CompletedAt = time.Now().UTC()
			}
			e.mu.Unlock()
			return
		}
		if reyaFilled || hlFilled {
			e.mu.Lock()
			if exec.Status != domain.ExecutionCancelled {
				exec.Status = domain.ExecutionPartial
			}
			e.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			e.handleTimeout(exec)
			return
		case <-time.After(e.pollInterval):
		}
	}

	e.logger.Warn("execution timed out", slog.String("execution_id", exec.ID))
	e.handleTimeout(exec)
}

// orderFilled checks one leg, mirroring the latest venue state onto the
// local order handle.
func (e *Executor) orderFilled(ctx context.Context, client exchange.Client, order *domain.Order) bool {
	if order == nil {
		return false
	}
	if order.Status == domain.OrderStatusFilled {
		return true
	}

	updated, err := client.GetOrderStatus(ctx, order.ID)
	if err != nil {
		e.logger.Error("order status check failed",
			slog.String("venue", client.Name()),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if updated != nil && updated.Status == domain.OrderStatusFilled {
		e.mu.Lock()
		order.Status = updated.Status
		order.FilledAmount = updated.FilledAmount
		if updated.Price > 0 {
			order.Price = updated.Price
		}
		e.mu.Unlock()
		return true
	}
	return false
}

// handleTimeout cancels any unfilled leg and marks the execution failed.
func (e *Executor) handleTimeout(exec *domain.TradeExecution) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	if exec.ReyaOrder != nil && exec.ReyaOrder.Status != domain.OrderStatusFilled {
		if _, err := e.reya.CancelOrder(cancelCtx, exec.ReyaOrder.ID); err != nil {
			e.logger.Error("failed to cancel reya order",
				slog.String("order_id", exec.ReyaOrder.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if exec.HyperliquidOrder != nil && exec.HyperliquidOrder.Status != domain.OrderStatusFilled {
		if _, err := e.hyperliquid.CancelOrder(cancelCtx, exec.HyperliquidOrder.ID); err != nil {
			e.logger.Error("failed to cancel hyperliquid order",
				slog.String("order_id", exec.HyperliquidOrder.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.mu.Lock()
	if exec.Status != domain.ExecutionCancelled {
		exec.Status = domain.ExecutionFailed
		exec.ErrorMessage = "execution timeout"
	}
	e.mu.Unlock()
}

// computeResults derives execution metrics from the filled legs. Realized
// PnL from live fills needs position tracking, which this version does not
// have, so it stays a neutral placeholder.
func (e *Executor) computeResults(exec *domain.TradeExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var totalExecuted, totalCost float64

	if o := exec.ReyaOrder; o != nil && o.FilledAmount > 0 {
		totalExecuted += o.FilledAmount
		if o.Price > 0 {
			exec.AvgEntryPriceReya = o.Price
		}
		totalCost += o.FilledAmount * liveFeeRate
	}
	if o := exec.HyperliquidOrder; o != nil && o.FilledAmount > 0 {
		totalExecuted += o.FilledAmount
		if o.Price > 0 {
			exec.AvgEntryPriceHL = o.Price
		}
		totalCost += o.FilledAmount * liveFeeRate
	}

	exec.ExecutedSize = totalExecuted / 2 // average of both legs
	exec.ExecutionCost = totalCost

	if exec.AvgEntryPriceReya > 0 && exec.AvgEntryPriceHL > 0 {
		priceDiff := math.Abs(exec.AvgEntryPriceReya - exec.AvgEntryPriceHL)
		avgPrice := (exec.AvgEntryPriceReya + exec.AvgEntryPriceHL) / 2
		exec.Slippage = domain.SafeDivide(priceDiff, avgPrice, 0)
	}

	exec.RealizedPnL = 0
}

// cancelLegs best-effort cancels both orders after a failed execution.
func (e *Executor) cancelLegs(exec *domain.TradeExecution) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	if exec.ReyaOrder != nil {
		_, _ = e.reya.CancelOrder(cancelCtx, exec.ReyaOrder.ID)
	}
	if exec.HyperliquidOrder != nil {
		_, _ = e.hyperliquid.CancelOrder(cancelCtx, exec.HyperliquidOrder.ID)
	}
}

// drainQueue pops the oldest queued opportunity id and redrives it through
// the resolver. Opportunities that are no longer validated, or that expired
// while queued, are dropped with a log.
func (e *Executor) drainQueue(ctx context.Context) {
	e.mu.Lock()
	if e.executing || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	oppID := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	e.logger.Info("processing queued opportunity", slog.String("opportunity_id", oppID))

	if e.resolver == nil {
		e.logger.Warn("no opportunity resolver wired, dropping queued opportunity",
			slog.String("opportunity_id", oppID),
		)
		return
	}

	opp, ok := e.resolver(oppID)
	if !ok {
		e.logger.Warn("queued opportunity no longer known", slog.String("opportunity_id", oppID))
		return
	}
	if status := opp.CurrentStatus(); status != domain.OpportunityValidated || opp.Expired(time.Now().UTC()) {
		e.logger.Warn("queued opportunity no longer executable",
			slog.String("opportunity_id", oppID),
			slog.String("status", string(status)),
		)
		return
	}

	if _, err := e.Execute(ctx, opp); err != nil {
		e.logger.Error("queued execution failed",
			slog.String("opportunity_id", oppID),
			slog.String("error", err.Error()),
		)
	}
}

// CancelActive cancels the legs of every in-flight execution and marks the
// records cancelled. Used by the engine's emergency stop. Returns the number
// of executions cancelled.
func (e *Executor) CancelActive(ctx context.Context) int {
	type leg struct {
		client  exchange.Client
		orderID string
	}
	var legs []leg

	e.mu.Lock()
	var cancelled int
	for _, exec := range e.executions {
		if !exec.Active() {
			continue
		}
		if o := exec.ReyaOrder; o != nil && o.Status != domain.OrderStatusFilled {
			legs = append(legs, leg{e.reya, o.ID})
		}
		if o := exec.HyperliquidOrder; o != nil && o.Status != domain.OrderStatusFilled {
			legs = append(legs, leg{e.hyperliquid, o.ID})
		}
		exec.Status = domain.ExecutionCancelled
		exec.ErrorMessage = "emergency stop"
		cancelled++
	}
	e.mu.Unlock()

	for _, l := range legs {
		if _, err := l.client.CancelOrder(ctx, l.orderID); err != nil {
			e.logger.Error("emergency cancel failed",
				slog.String("venue", l.client.Name()),
				slog.String("order_id", l.orderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return cancelled
}

// cloneExecution deep-copies a record so callers can read it while the live
// record keeps changing.
func cloneExecution(exec *domain.TradeExecution) *domain.TradeExecution {
	cp := *exec
	if exec.ReyaOrder != nil {
		o := *exec.ReyaOrder
		cp.ReyaOrder = &o
	}
	if exec.HyperliquidOrder != nil {
		o := *exec.HyperliquidOrder
		cp.HyperliquidOrder = &o
	}
	return &cp
}

// QueueLength returns the number of opportunity ids waiting for the slot.
func (e *Executor) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ExecutionByID looks up one execution record, returned as a snapshot copy.
func (e *Executor) ExecutionByID(id string) (*domain.TradeExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[id]
	if !ok {
		return nil, false
	}
	return cloneExecution(exec), true
}

// ExecutionsForSymbol returns every execution attempted for a symbol.
func (e *Executor) ExecutionsForSymbol(symbol string) []*domain.TradeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*domain.TradeExecution
	for _, exec := range e.executions {
		if exec.Symbol == symbol {
			out = append(out, cloneExecution(exec))
		}
	}
	return out
}

// ActiveExecutions returns executions still pending or partially filled.
func (e *Executor) ActiveExecutions() []*domain.TradeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*domain.TradeExecution
	for _, exec := range e.executions {
		if exec.Active() {
			out = append(out, cloneExecution(exec))
		}
	}
	return out
}

// AllExecutions returns a snapshot of every execution record.
func (e *Executor) AllExecutions() []*domain.TradeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.TradeExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		out = append(out, cloneExecution(exec))
	}
	return out
}

// Statistics summarizes the execution table.
func (e *Executor) Statistics() domain.ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := domain.ExecutorStats{TotalExecutions: len(e.executions)}
	var slippageSum float64
	for _, exec := range e.executions {
		if exec.Status == domain.ExecutionCompleted {
			stats.CompletedExecutions++
		}
		stats.TotalPnL += exec.RealizedPnL
		stats.TotalCost += exec.ExecutionCost
		slippageSum += exec.Slippage
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.CompletedExecutions) / float64(stats.TotalExecutions)
		stats.AverageSlippage = slippageSum / float64(stats.TotalExecutions)
	}
	stats.NetPnL = stats.TotalPnL - stats.TotalCost
	return stats
}
