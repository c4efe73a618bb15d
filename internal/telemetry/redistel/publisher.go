// Package redistel publishes pipeline telemetry to Redis so out-of-process
// consumers (dashboards, recorders) can follow spreads, opportunities, and
// executions without a direct dependency on the engine. Events go to Pub/Sub
// channels for live consumers and to capped streams for replay.
package redistel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
)

const (
	channelSpreads       = "fundarb:spreads"
	channelOpportunities = "fundarb:opportunities"
	channelExecutions    = "fundarb:executions"

	// Streams keep a bounded replay window, trimmed approximately via
	// XADD MAXLEN ~.
	streamMaxLen int64 = 10000

	connectTimeout = 5 * time.Second
)

// Publisher writes telemetry to Redis. A nil Publisher is valid and drops
// everything, so callers never need to guard for disabled telemetry.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection with a ping. Returns
// (nil, nil) when no address is configured, meaning telemetry is disabled.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redistel: connect %s: %w", cfg.Addr, err)
	}

	return &Publisher{
		rdb:    rdb,
		logger: logger.With(slog.String("component", "telemetry")),
	}, nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}

// PublishSpread emits one recomputed spread.
func (p *Publisher) PublishSpread(ctx context.Context, spread domain.FundingRateSpread) {
	p.publish(ctx, channelSpreads, spread)
}

// PublishOpportunity emits one validated opportunity.
func (p *Publisher) PublishOpportunity(ctx context.Context, opp *domain.ArbitrageOpportunity) {
	p.publish(ctx, channelOpportunities, opp)
}

// PublishExecution emits one finished execution record.
func (p *Publisher) PublishExecution(ctx context.Context, exec *domain.TradeExecution) {
	p.publish(ctx, channelExecutions, exec)
}

// publish is best-effort: telemetry failures are logged, never propagated
// into the trading path.
func (p *Publisher) publish(ctx context.Context, channel string, payload any) {
	if p == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal telemetry payload",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("telemetry publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}

	args := &redis.XAddArgs{
		Stream: channel,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": data},
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		p.logger.Warn("telemetry stream append failed",
			slog.String("stream", channel),
			slog.String("error", err.Error()),
		)
	}
}
