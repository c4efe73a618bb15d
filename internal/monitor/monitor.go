// Package monitor polls funding rates on both venues for every enabled
// trading pair, derives spreads, and fans the results out to registered
// handlers. It is the head of the opportunity-to-execution event chain.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/exchange"
)

// Handler receives a freshly computed spread. Handlers are invoked
// synchronously in registration order; a failing handler is logged and does
// not block the others.
type Handler func(ctx context.Context, spread domain.FundingRateSpread) error

// FundingStreamer is implemented by venue clients that support push-based
// funding rate updates. Venues without it are covered by the polling loop.
type FundingStreamer interface {
	SubscribeFundingRates(ctx context.Context, symbols []string) error
}

// Config configures the rate monitor.
type Config struct {
	Reya               exchange.Client
	Hyperliquid        exchange.Client
	Pairs              []config.TradingPair
	UpdateInterval     time.Duration
	MaxSpreadThreshold float64
	Logger             *slog.Logger
}

// Monitor maintains the latest funding rate per (symbol, venue) and the
// derived spread per symbol.
type Monitor struct {
	reya         exchange.Client
	hyperliquid  exchange.Client
	pairs        []config.TradingPair
	interval     time.Duration
	maxThreshold float64
	retryDelay   time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	rates   map[string]map[string]domain.FundingRate // symbol -> venue -> rate
	spreads map[string]domain.FundingRateSpread
	recent  []domain.FundingRateSpread // newest-last, capped at recentSpreadCap

	spreadHandlers      []Handler
	opportunityHandlers []Handler

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// recentSpreadCap bounds the display history of recomputed spreads.
const recentSpreadCap = 5

// New creates a rate monitor. Handlers should be registered before Start.
func New(cfg Config) *Monitor {
	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		reya:         cfg.Reya,
		hyperliquid:  cfg.Hyperliquid,
		pairs:        cfg.Pairs,
		interval:     interval,
		maxThreshold: cfg.MaxSpreadThreshold,
		retryDelay:   5 * time.Second,
		logger:       cfg.Logger.With(slog.String("component", "rate_monitor")),
		rates:        make(map[string]map[string]domain.FundingRate),
		spreads:      make(map[string]domain.FundingRateSpread),
	}
}

// AddSpreadHandler registers a handler for every recomputed spread.
func (m *Monitor) AddSpreadHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spreadHandlers = append(m.spreadHandlers, h)
}

// AddOpportunityHandler registers a handler invoked only for profitable
// spreads.
func (m *Monitor) AddOpportunityHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunityHandlers = append(m.opportunityHandlers, h)
}

// Start launches the background polling loop. Calling Start on a running
// monitor is a no-op with a warning.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("rate monitor is already running")
		return
	}
	m.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.setupSubscriptions(loopCtx)

	go m.loop(loopCtx)
	m.logger.Info("started funding rate monitoring",
		slog.Int("pairs", len(m.pairs)),
		slog.Duration("interval", m.interval),
	)
}

// Stop signals the polling loop to exit and waits for it. Safe to call when
// the monitor is not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("stopped funding rate monitoring")
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// setupSubscriptions registers push-based funding streams with venues that
// support them. Failures are logged; polling covers those venues anyway.
func (m *Monitor) setupSubscriptions(ctx context.Context) {
	streamer, ok := m.reya.(FundingStreamer)
	if !ok {
		return
	}
	symbols := make([]string, 0, len(m.pairs))
	for _, p := range m.pairs {
		if p.Enabled {
			symbols = append(symbols, p.ReyaSymbol)
		}
	}
	if len(symbols) == 0 {
		return
	}
	if err := streamer.SubscribeFundingRates(ctx, symbols); err != nil {
		m.logger.Error("failed to setup funding rate subscriptions",
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Info("subscribed to reya funding rates", slog.Any("symbols", symbols))
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	for {
		if err := m.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("error in monitoring loop", slog.String("error", err.Error()))
			// Short delay before retry so a persistent failure does not spin.
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.retryDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// cycle runs one full poll: refresh rates from both venues, then recompute
// spreads for every symbol with data from both sides.
func (m *Monitor) cycle(ctx context.Context) error {
	if err := m.updateFundingRates(ctx); err != nil {
		return err
	}
	m.calculateSpreads(ctx)
	return nil
}

// ForceUpdate runs one poll cycle synchronously. Used by the engine's
// force-refresh surface.
func (m *Monitor) ForceUpdate(ctx context.Context) error {
	m.logger.Info("forcing funding rate update")
	return m.cycle(ctx)
}

// updateFundingRates fetches rates for every enabled pair from both venues
// concurrently. Per-fetch failures are logged and leave the previous cached
// rate in place; they never abort the cycle.
func (m *Monitor) updateFundingRates(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, pair := range m.pairs {
		if !pair.Enabled {
			continue
		}
		g.Go(func() error {
			m.updateVenueRate(gctx, m.reya, "reya", pair.Symbol, pair.ReyaSymbol)
			return nil
		})
		g.Go(func() error {
			m.updateVenueRate(gctx, m.hyperliquid, "hyperliquid", pair.Symbol, pair.HyperliquidSymbol)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("rate_monitor: update funding rates: %w", err)
	}
	return ctx.Err()
}

func (m *Monitor) updateVenueRate(ctx context.Context, client exchange.Client, venue, standardSymbol, venueSymbol string) {
	rate, err := client.GetFundingRate(ctx, venueSymbol)
	if err != nil {
		m.logger.Warn("failed to get funding rate",
			slog.String("venue", venue),
			slog.String("symbol", venueSymbol),
			slog.String("error", err.Error()),
		)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	venues := m.rates[standardSymbol]
	if venues == nil {
		venues = make(map[string]domain.FundingRate)
		m.rates[standardSymbol] = venues
	}
	venues[venue] = domain.FundingRate{
		Symbol:    standardSymbol,
		Exchange:  venue,
		Rate:      rate,
		Timestamp: time.Now().UTC(),
	}
	m.logger.Debug("updated funding rate",
		slog.String("venue", venue),
		slog.String("symbol", standardSymbol),
		slog.Float64("rate", rate),
	)
}

// calculateSpreads recomputes the spread for every symbol that has data from
// both venues and notifies handlers. Latest spread wins per symbol.
func (m *Monitor) calculateSpreads(ctx context.Context) {
	for _, pair := range m.pairs {
		m.mu.Lock()
		venues, ok := m.rates[pair.Symbol]
		if !ok {
			m.mu.Unlock()
			continue
		}
		reya, haveReya := venues["reya"]
		hl, haveHL := venues["hyperliquid"]
		m.mu.Unlock()
		if !haveReya || !haveHL {
			continue
		}

		spread := domain.NewSpread(
			pair.Symbol,
			reya.Rate,
			hl.Rate,
			pair.MinFundingRateDiff,
			m.maxThreshold,
			time.Now().UTC(),
		)

		m.mu.Lock()
		m.spreads[pair.Symbol] = spread
		m.recent = append(m.recent, spread)
		if len(m.recent) > recentSpreadCap {
			m.recent = m.recent[len(m.recent)-recentSpreadCap:]
		}
		spreadHandlers := append([]Handler(nil), m.spreadHandlers...)
		oppHandlers := append([]Handler(nil), m.opportunityHandlers...)
		m.mu.Unlock()

		m.notify(ctx, "spread", spreadHandlers, spread)
		if spread.Profitable {
			m.logger.Info("arbitrage opportunity detected",
				slog.String("symbol", spread.Symbol),
				slog.Float64("spread", spread.Spread),
				slog.String("direction", string(spread.Direction)),
			)
			m.notify(ctx, "opportunity", oppHandlers, spread)
		}
	}
}

// notify invokes handlers in registration order, isolating failures.
func (m *Monitor) notify(ctx context.Context, kind string, handlers []Handler, spread domain.FundingRateSpread) {
	for _, h := range handlers {
		if err := h(ctx, spread); err != nil {
			m.logger.Error("handler failed",
				slog.String("kind", kind),
				slog.String("symbol", spread.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CurrentSpreads returns a copy of the latest spread per symbol.
func (m *Monitor) CurrentSpreads() map[string]domain.FundingRateSpread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.FundingRateSpread, len(m.spreads))
	for k, v := range m.spreads {
		out[k] = v
	}
	return out
}

// FundingRates returns a copy of the latest rate per (symbol, venue).
func (m *Monitor) FundingRates() map[string]map[string]domain.FundingRate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]domain.FundingRate, len(m.rates))
	for sym, venues := range m.rates {
		inner := make(map[string]domain.FundingRate, len(venues))
		for v, r := range venues {
			inner[v] = r
		}
		out[sym] = inner
	}
	return out
}

// SpreadForSymbol returns the latest spread for one symbol.
func (m *Monitor) SpreadForSymbol(symbol string) (domain.FundingRateSpread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spreads[symbol]
	return s, ok
}

// RecentSpreads returns up to the five most recently recomputed spreads,
// newest last.
func (m *Monitor) RecentSpreads() []domain.FundingRateSpread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.FundingRateSpread(nil), m.recent...)
}

// ProfitableSpreads returns every current spread inside the profitable band.
func (m *Monitor) ProfitableSpreads() []domain.FundingRateSpread {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FundingRateSpread
	for _, s := range m.spreads {
		if s.Profitable {
			out = append(out, s)
		}
	}
	return out
}

// StatusSummary reports the monitor's coverage and freshness.
func (m *Monitor) StatusSummary() domain.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := domain.MonitorStatus{
		Running:        m.running,
		TotalPairs:     len(m.pairs),
		MonitoredPairs: len(m.spreads),
	}
	for _, p := range m.pairs {
		if p.Enabled {
			status.ActivePairs++
		}
	}
	for _, s := range m.spreads {
		if s.Profitable {
			status.ProfitableOpportunities++
		}
		if s.Timestamp.After(status.LastUpdate) {
			status.LastUpdate = s.Timestamp
		}
	}
	return status
}
