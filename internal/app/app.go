// Package app wires the engine, venue clients, telemetry, notifications, and
// the optional HTTP server into one runnable unit, and owns graceful
// shutdown ordering.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/engine"
	"github.com/alanyoungcy/fundarb/internal/exchange"
	"github.com/alanyoungcy/fundarb/internal/exchange/hyperliquid"
	"github.com/alanyoungcy/fundarb/internal/exchange/reya"
	"github.com/alanyoungcy/fundarb/internal/notify"
	"github.com/alanyoungcy/fundarb/internal/server"
	"github.com/alanyoungcy/fundarb/internal/telemetry/redistel"
)

const shutdownTimeout = 10 * time.Second

// App is the root application object. Closers run in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the loaded configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the engine and the optional HTTP
// server, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting application",
		slog.Bool("dry_run", a.cfg.General.DryRun),
		slog.Int("trading_pairs", len(a.cfg.EnabledPairs())),
	)

	var reyaClient exchange.Client = reya.New(a.cfg.Exchanges.Reya, a.logger)
	var hlClient exchange.Client = hyperliquid.New(a.cfg.Exchanges.Hyperliquid, a.logger)

	telemetry, err := redistel.New(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("app: telemetry: %w", err)
	}
	if telemetry != nil {
		a.closers = append(a.closers, func() { _ = telemetry.Close() })
	}

	notifier := notify.New(a.cfg.Notify, a.logger)

	eng := engine.New(engine.Config{
		Cfg:         a.cfg,
		Reya:        reyaClient,
		Hyperliquid: hlClient,
		Logger:      a.logger,
	})
	eng.AddEventHandler(a.eventBridge(notifier, telemetry))
	eng.Monitor().AddSpreadHandler(func(ctx context.Context, spread domain.FundingRateSpread) error {
		telemetry.PublishSpread(ctx, spread)
		return nil
	})

	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("app: initialize engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := server.New(a.cfg.Server.Port, eng, a.logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return eng.Stop(stopCtx)
	})

	return g.Wait()
}

// eventBridge forwards engine events to the operator channels and the
// telemetry stream.
func (a *App) eventBridge(notifier *notify.Notifier, telemetry *redistel.Publisher) engine.EventHandler {
	return func(ctx context.Context, ev engine.Event) {
		switch ev.Type {
		case engine.EventOpportunityValidated:
			if ev.Opportunity != nil {
				telemetry.PublishOpportunity(ctx, ev.Opportunity)
				_ = notifier.Notify(ctx, string(ev.Type), "Arbitrage opportunity",
					fmt.Sprintf("%s spread %.4f%% size %.2f expected profit %.4f",
						ev.Opportunity.Symbol, ev.Opportunity.Spread,
						ev.Opportunity.RecommendedSize, ev.Opportunity.ExpectedProfit))
			}
		case engine.EventExecutionCompleted, engine.EventExecutionFailed:
			if ev.Execution != nil {
				telemetry.PublishExecution(ctx, ev.Execution)
				_ = notifier.Notify(ctx, string(ev.Type), "Trade execution",
					fmt.Sprintf("%s %s status %s pnl %.4f",
						ev.Execution.ID, ev.Execution.Symbol,
						ev.Execution.Status, ev.Execution.RealizedPnL))
			}
		case engine.EventEngineStarted, engine.EventEngineStopped, engine.EventEmergencyStop:
			_ = notifier.NotifyAll(ctx, "Engine", ev.Message)
		}
	}
}

// Close tears down registered resources in reverse order. Safe to call more
// than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
