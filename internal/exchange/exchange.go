// Package exchange defines the capability contract a venue adapter must
// implement for the arbitrage core to monitor and trade against it. The core
// is written entirely against this interface so it can be tested with fakes.
package exchange

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// Client is the per-venue capability surface consumed by the monitor,
// detector and executor.
type Client interface {
	// Name returns the venue identifier ("reya", "hyperliquid").
	Name() string

	// Connect establishes the venue session. It returns false (with a nil
	// error) when the venue is reachable but declined the session, and an
	// error on transport failure.
	Connect(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// HealthCheck reports whether the venue is currently usable.
	HealthCheck(ctx context.Context) bool

	// GetFundingRate returns the current funding rate for a venue-format
	// symbol, or domain.ErrNotFound when the venue has no data for it.
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	GetBalance(ctx context.Context) ([]domain.Balance, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)

	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, orderType domain.OrderType, price float64) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error)

	// NormalizeSymbol converts a standard symbol (BTC-USD) to venue format;
	// DenormalizeSymbol is the inverse.
	NormalizeSymbol(symbol string) string
	DenormalizeSymbol(symbol string) string
}

var pairPattern = regexp.MustCompile(`^[A-Z]{2,10}-[A-Z]{2,10}$`)

// ValidPair reports whether symbol is in BASE-QUOTE form.
func ValidPair(symbol string) bool {
	return pairPattern.MatchString(strings.ToUpper(symbol))
}

// ParsePair splits a standard symbol into base and quote currencies.
func ParsePair(symbol string) (base, quote string, err error) {
	if !ValidPair(symbol) {
		return "", "", fmt.Errorf("exchange: invalid trading pair %q", symbol)
	}
	parts := strings.SplitN(strings.ToUpper(symbol), "-", 2)
	return parts[0], parts[1], nil
}
