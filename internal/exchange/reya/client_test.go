package reya

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.ReyaConfig{AccountID: "acct-1"}, testLogger())
	c.apiURL = srv.URL
	return c
}

func TestSymbolMapping(t *testing.T) {
	c := New(config.ReyaConfig{}, testLogger())

	assert.Equal(t, "BTC-rUSD", c.NormalizeSymbol("BTC-USD"))
	assert.Equal(t, "ETH-rUSD", c.NormalizeSymbol("ETH-USD"))
	assert.Equal(t, "BTC-USD", c.DenormalizeSymbol("BTC-rUSD"))

	// Unknown quote passes through unchanged.
	assert.Equal(t, "BTC-USDT", c.DenormalizeSymbol("BTC-USDT"))
	// Malformed symbols pass through unchanged.
	assert.Equal(t, "garbage", c.NormalizeSymbol("garbage"))
}

func TestConnectAndHealthCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		w.Write([]byte(`[{"symbol":"BTC-rUSD","fundingRate":"1.0","markPrice":"50000"}]`))
	})

	ok, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c.IsConnected())
	assert.True(t, c.HealthCheck(context.Background()))

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.IsConnected())
	assert.False(t, c.HealthCheck(context.Background()))
}

func TestGetFundingRateREST(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/BTC-rUSD":
			w.Write([]byte(`{"symbol":"BTC-rUSD","fundingRate":"1.25","markPrice":"50000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	rate, err := c.GetFundingRate(context.Background(), "BTC-rUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.25, rate)

	_, err = c.GetFundingRate(context.Background(), "DOGE-rUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetFundingRatePrefersFreshStream(t *testing.T) {
	var restHits int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		restHits++
		w.Write([]byte(`{"symbol":"BTC-rUSD","fundingRate":"1.0"}`))
	})

	c.storeFundingUpdate("BTC-rUSD", 2.5)

	rate, err := c.GetFundingRate(context.Background(), "BTC-rUSD")
	require.NoError(t, err)
	assert.Equal(t, 2.5, rate)
	assert.Zero(t, restHits)
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/acct-1/balances", r.URL.Path)
		w.Write([]byte(`[{"asset":"rUSD","total":"1500.5","available":"1200"}]`))
	})

	balances, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "rUSD", balances[0].Currency)
	assert.Equal(t, 1500.5, balances[0].Total)
	assert.Equal(t, 1200.0, balances[0].Available)
	assert.InDelta(t, 300.5, balances[0].Locked, 1e-9)
}

func TestGetPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTC-rUSD","size":"-0.5","entryPrice":"48000","markPrice":"50000","unrealizedPnl":"-1000"}]`))
	})

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC-USD", positions[0].Symbol)
	assert.Equal(t, domain.OrderSideSell, positions[0].Side)
	assert.Equal(t, -0.5, positions[0].Size)
}

func TestPlaceAndCancelOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			w.Write([]byte(`{"orderId":"ord-42","status":"open"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/orders/ord-42":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/orders/ord-42":
			w.Write([]byte(`{"orderId":"ord-42","symbol":"BTC-rUSD","side":"sell","type":"market","size":"100","filledSize":"100","avgPrice":"50000","status":"filled"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	order, err := c.PlaceOrder(ctx, "BTC-rUSD", domain.OrderSideSell, 100, domain.OrderTypeMarket, 0)
	require.NoError(t, err)
	assert.Equal(t, "ord-42", order.ID)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)

	status, err := c.GetOrderStatus(ctx, "ord-42")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status.Status)
	assert.Equal(t, 100.0, status.FilledAmount)
	assert.Equal(t, 50000.0, status.Price)

	ok, err := c.CancelOrder(ctx, "ord-42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlaceOrderRejectsInvalidAmount(t *testing.T) {
	c := New(config.ReyaConfig{AccountID: "acct-1"}, testLogger())
	_, err := c.PlaceOrder(context.Background(), "BTC-rUSD", domain.OrderSideBuy, 0, domain.OrderTypeMarket, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
