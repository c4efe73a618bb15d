// Package engine owns the lifecycle of the arbitrage pipeline: it connects
// the venues, chains monitor, detector, and executor together, and runs the
// periodic statistics and health loops.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/detector"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/exchange"
	"github.com/alanyoungcy/fundarb/internal/executor"
	"github.com/alanyoungcy/fundarb/internal/monitor"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

const (
	statsInterval  = 30 * time.Second
	healthInterval = 60 * time.Second

	// Live mode requires twice the estimated downside before executing.
	liveMinRiskReward = 2.0
)

// EventType labels engine events published to registered event handlers.
type EventType string

const (
	EventEngineStarted        EventType = "engine_started"
	EventEngineStopped        EventType = "engine_stopped"
	EventEmergencyStop        EventType = "emergency_stop"
	EventOpportunityValidated EventType = "opportunity_validated"
	EventExecutionCompleted   EventType = "execution_completed"
	EventExecutionFailed      EventType = "execution_failed"
)

// Event is a pipeline occurrence worth surfacing to operators.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Opportunity *domain.ArbitrageOpportunity
	Execution   *domain.TradeExecution
	Message     string
}

// EventHandler receives engine events. Handlers must not block; slow sinks
// should buffer internally.
type EventHandler func(ctx context.Context, ev Event)

// Config configures the engine.
type Config struct {
	Cfg         *config.Config
	Reya        exchange.Client
	Hyperliquid exchange.Client
	Logger      *slog.Logger
}

// Engine is the orchestrator. All state transitions go through the mutex;
// the monitor, detector, and executor handle their own locking.
type Engine struct {
	cfg         *config.Config
	reya        exchange.Client
	hyperliquid exchange.Client
	logger      *slog.Logger

	monitor  *monitor.Monitor
	detector *detector.Detector
	executor *executor.Executor

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stats     domain.EngineStats

	eventHandlers []EventHandler

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds the engine and its pipeline components, and wires the event
// chain: profitable spreads feed the detector, validated opportunities feed
// the execution gate, and the executor resolves queued ids back through the
// detector.
func New(cfg Config) *Engine {
	logger := cfg.Logger.With(slog.String("component", "arbitrage_engine"))

	e := &Engine{
		cfg:         cfg.Cfg,
		reya:        cfg.Reya,
		hyperliquid: cfg.Hyperliquid,
		logger:      logger,
		state:       StateStopped,
	}

	e.monitor = monitor.New(monitor.Config{
		Reya:               cfg.Reya,
		Hyperliquid:        cfg.Hyperliquid,
		Pairs:              cfg.Cfg.EnabledPairs(),
		UpdateInterval:     time.Duration(cfg.Cfg.Arbitrage.FundingRate.CheckIntervalSeconds) * time.Second,
		MaxSpreadThreshold: cfg.Cfg.Arbitrage.FundingRate.MaxSpreadThreshold,
		Logger:             cfg.Logger,
	})

	e.detector = detector.New(detector.Config{
		Reya:               cfg.Reya,
		Hyperliquid:        cfg.Hyperliquid,
		Pairs:              cfg.Cfg.EnabledPairs(),
		Risk:               cfg.Cfg.Risk,
		FundingPeriodHours: cfg.Cfg.Arbitrage.FundingRate.FundingPeriodHours,
		Logger:             cfg.Logger,
	})

	e.executor = executor.New(executor.Config{
		Reya:        cfg.Reya,
		Hyperliquid: cfg.Hyperliquid,
		Risk:        cfg.Cfg.Risk,
		DryRun:      cfg.Cfg.General.DryRun,
		Logger:      cfg.Logger,
	})

	e.monitor.AddOpportunityHandler(func(ctx context.Context, spread domain.FundingRateSpread) error {
		_, err := e.detector.AnalyzeSpread(ctx, spread)
		return err
	})
	e.detector.AddValidatedHandler(e.handleValidated)
	e.executor.SetResolver(e.detector.OpportunityByID)
	e.executor.AddResultHandler(e.recordExecution)

	return e
}

// AddEventHandler registers a handler for engine events. Must be called
// before Start.
func (e *Engine) AddEventHandler(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventHandlers = append(e.eventHandlers, h)
}

// Initialize connects both venue clients. Both venues failing to connect is
// fatal unless allow_offline is set; a single failure is logged and the
// engine runs in degraded mode.
func (e *Engine) Initialize(ctx context.Context) error {
	e.logger.Info("initializing arbitrage engine", slog.Bool("dry_run", e.cfg.General.DryRun))

	reyaOK := e.connect(ctx, e.reya)
	hlOK := e.connect(ctx, e.hyperliquid)

	if !reyaOK && !hlOK {
		if !e.cfg.General.AllowOffline {
			e.setState(StateError)
			return fmt.Errorf("arbitrage_engine: initialize: no exchange connections available")
		}
		e.logger.Warn("no exchange connections available, continuing offline")
	}
	return nil
}

func (e *Engine) connect(ctx context.Context, client exchange.Client) bool {
	ok, err := client.Connect(ctx)
	if err != nil || !ok {
		e.logger.Error("exchange connection failed", slog.String("venue", client.Name()))
		if err != nil {
			e.logger.Error("connection error",
				slog.String("venue", client.Name()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	e.logger.Info("exchange connected", slog.String("venue", client.Name()))
	return true
}

// Start moves the engine to running: the monitor loop begins polling and the
// statistics and health loops are launched. Starting a running engine is a
// warning no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StateStarting {
		e.mu.Unlock()
		e.logger.Warn("engine is already running")
		return nil
	}
	e.state = StateStarting
	e.startedAt = time.Now().UTC()
	e.stats = domain.EngineStats{}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, loopCtx := errgroup.WithContext(loopCtx)
	e.group = g
	e.mu.Unlock()

	e.monitor.Start(loopCtx)

	g.Go(func() error { return e.statsLoop(loopCtx) })
	g.Go(func() error { return e.healthLoop(loopCtx) })

	e.setState(StateRunning)
	e.logger.Info("arbitrage engine started")
	e.publish(ctx, Event{Type: EventEngineStarted, Timestamp: time.Now().UTC(), Message: "engine started"})
	return nil
}

// Stop shuts the pipeline down in reverse order and disconnects the venues.
// Safe to call on a stopped engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateStopping {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	cancel, group := e.cancel, e.group
	e.mu.Unlock()

	e.logger.Info("stopping arbitrage engine")

	e.monitor.Stop()
	if cancel != nil {
		cancel()
	}
	if group != nil {
		if err := group.Wait(); err != nil && err != context.Canceled {
			e.logger.Error("background loop error", slog.String("error", err.Error()))
		}
	}

	if err := e.reya.Disconnect(ctx); err != nil {
		e.logger.Error("reya disconnect failed", slog.String("error", err.Error()))
	}
	if err := e.hyperliquid.Disconnect(ctx); err != nil {
		e.logger.Error("hyperliquid disconnect failed", slog.String("error", err.Error()))
	}

	e.setState(StateStopped)
	e.logger.Info("arbitrage engine stopped")
	e.publish(ctx, Event{Type: EventEngineStopped, Timestamp: time.Now().UTC(), Message: "engine stopped"})
	return nil
}

// EmergencyStop cancels every order belonging to an active execution on a
// best-effort basis, then performs a normal stop.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.logger.Warn("emergency stop initiated")
	e.publish(ctx, Event{Type: EventEmergencyStop, Timestamp: time.Now().UTC(), Message: "emergency stop"})

	if n := e.executor.CancelActive(ctx); n > 0 {
		e.logger.Warn("cancelled active executions", slog.Int("count", n))
	}

	return e.Stop(ctx)
}

// handleValidated is the detector-to-executor bridge. It applies the
// execution gate and records outcome statistics.
func (e *Engine) handleValidated(ctx context.Context, opp *domain.ArbitrageOpportunity) error {
	e.mu.Lock()
	e.stats.OpportunitiesDetected++
	e.stats.LastOpportunityTime = time.Now().UTC()
	e.mu.Unlock()

	e.publish(ctx, Event{
		Type:        EventOpportunityValidated,
		Timestamp:   time.Now().UTC(),
		Opportunity: opp,
	})

	if !e.ShouldExecute(opp) {
		e.logger.Debug("opportunity gated, not executing", slog.String("id", opp.ID))
		return nil
	}

	// Outcomes come back through the executor's result handler, which also
	// covers executions redriven from the queue.
	if _, err := e.executor.Execute(ctx, opp); err != nil {
		e.recordError()
		e.logger.Error("execution aborted",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (e *Engine) recordExecution(ctx context.Context, exec *domain.TradeExecution) {
	e.mu.Lock()
	if exec.Status == domain.ExecutionCompleted {
		e.stats.OpportunitiesExecuted++
		e.stats.TotalPnL += exec.RealizedPnL
	} else {
		e.stats.ErrorCount++
	}
	e.mu.Unlock()

	ev := Event{Timestamp: time.Now().UTC(), Execution: exec}
	if exec.Status == domain.ExecutionCompleted {
		ev.Type = EventExecutionCompleted
		e.logger.Info("execution completed",
			slog.String("execution_id", exec.ID),
			slog.Float64("realized_pnl", exec.RealizedPnL),
		)
	} else {
		ev.Type = EventExecutionFailed
		ev.Message = exec.ErrorMessage
		e.logger.Warn("execution did not complete",
			slog.String("execution_id", exec.ID),
			slog.String("status", string(exec.Status)),
		)
	}
	e.publish(ctx, ev)
}

// ShouldExecute is the final execution gate. Dry-run executes everything;
// live mode requires the expected profit to cover the minimum trade amount,
// a doubled risk/reward floor, and no active execution on the same symbol.
func (e *Engine) ShouldExecute(opp *domain.ArbitrageOpportunity) bool {
	if e.cfg.General.DryRun {
		return true
	}

	if opp.ExpectedProfit < e.cfg.Risk.MinTradeAmount {
		return false
	}
	if opp.RiskReward < liveMinRiskReward {
		return false
	}
	for _, exec := range e.executor.ActiveExecutions() {
		if exec.Symbol == opp.Symbol {
			return false
		}
	}
	return true
}

// statsLoop refreshes the aggregate statistics and sweeps expired
// opportunities every 30 seconds.
func (e *Engine) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.refreshStats()
			e.detector.CleanupExpired(time.Now().UTC())
		}
	}
}

func (e *Engine) refreshStats() {
	execStats := e.executor.Statistics()
	active := len(e.executor.ActiveExecutions())

	e.mu.Lock()
	e.stats.UptimeSeconds = time.Since(e.startedAt).Seconds()
	e.stats.TotalPnL = execStats.TotalPnL
	e.stats.ActivePositions = active
	if e.stats.OpportunitiesDetected > 0 {
		e.stats.SuccessRate = float64(e.stats.OpportunitiesExecuted) / float64(e.stats.OpportunitiesDetected)
	}
	e.mu.Unlock()
}

// healthLoop checks venue connectivity every 60 seconds. Failures are logged
// and counted but never stop the engine; the monitor keeps serving the last
// known rates.
func (e *Engine) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.reya.HealthCheck(ctx) {
				e.logger.Warn("health check failed", slog.String("venue", "reya"))
				e.recordError()
			}
			if !e.hyperliquid.HealthCheck(ctx) {
				e.logger.Warn("health check failed", slog.String("venue", "hyperliquid"))
				e.recordError()
			}
		}
	}
}

func (e *Engine) recordError() {
	e.mu.Lock()
	e.stats.ErrorCount++
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	e.mu.Lock()
	handlers := append([]EventHandler(nil), e.eventHandlers...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Running reports whether the engine is in the running state.
func (e *Engine) Running() bool {
	return e.State() == StateRunning
}

// Statistics returns a snapshot of the engine counters with uptime computed
// at call time.
func (e *Engine) Statistics() domain.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	if !e.startedAt.IsZero() && e.state == StateRunning {
		stats.UptimeSeconds = time.Since(e.startedAt).Seconds()
	}
	return stats
}

// Monitor exposes the rate monitor's query surface.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Detector exposes the detector's query surface.
func (e *Engine) Detector() *detector.Detector { return e.detector }

// Executor exposes the executor's query surface.
func (e *Engine) Executor() *executor.Executor { return e.executor }

// ForceRefresh runs one synchronous monitor poll cycle.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	return e.monitor.ForceUpdate(ctx)
}

// RecentExecutions returns up to limit executions ordered newest first.
func (e *Engine) RecentExecutions(limit int) []*domain.TradeExecution {
	execs := e.executor.AllExecutions()
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs
}

// StatusReport aggregates the status of every pipeline component.
type StatusReport struct {
	State         State                `json:"state"`
	DryRun        bool                 `json:"dry_run"`
	Uptime        float64              `json:"uptime_seconds"`
	Engine        domain.EngineStats   `json:"engine"`
	Monitor       domain.MonitorStatus `json:"monitor"`
	Detector      domain.DetectorStats `json:"detector"`
	Executor      domain.ExecutorStats `json:"executor"`
	QueueLength   int                  `json:"queue_length"`
	BestScore     float64              `json:"best_score"`
	BestSymbol    string               `json:"best_symbol,omitempty"`
	ReportedAtUTC time.Time            `json:"reported_at"`
}

// Status assembles a point-in-time report across the pipeline.
func (e *Engine) Status() StatusReport {
	report := StatusReport{
		State:         e.State(),
		DryRun:        e.cfg.General.DryRun,
		Engine:        e.Statistics(),
		Monitor:       e.monitor.StatusSummary(),
		Detector:      e.detector.Statistics(),
		Executor:      e.executor.Statistics(),
		QueueLength:   e.executor.QueueLength(),
		ReportedAtUTC: time.Now().UTC(),
	}
	report.Uptime = report.Engine.UptimeSeconds

	if best := e.detector.BestOpportunity(); best != nil {
		report.BestSymbol = best.Symbol
		if score := best.Score(); !math.IsInf(score, 1) {
			report.BestScore = score
		}
	}
	return report
}
