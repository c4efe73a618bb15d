// Package reya implements the exchange.Client adapter for Reya Network's
// perpetuals DEX. Funding rates arrive over a websocket stream when
// subscribed; every other call is REST.
package reya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
)

const (
	defaultAPIURL = "https://api.reya.xyz/v2"

	requestTimeout = 30 * time.Second

	// Streamed rates older than this fall back to a REST fetch.
	fundingCacheTTL = 2 * time.Minute

	quoteAsset = "rUSD"
)

// Client talks to Reya over REST and an optional funding websocket.
type Client struct {
	cfg        config.ReyaConfig
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger

	ws *wsStream

	mu        sync.Mutex
	connected bool
	funding   map[string]fundingEntry // venue symbol -> streamed rate
}

type fundingEntry struct {
	rate      float64
	updatedAt time.Time
}

// New creates a Reya client from its configuration section.
func New(cfg config.ReyaConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With(slog.String("component", "reya_client")),
		funding:    make(map[string]fundingEntry),
	}
}

func (c *Client) Name() string { return "reya" }

// Connect verifies API reachability. The funding websocket is dialed lazily
// by SubscribeFundingRates.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	var markets []marketInfo
	if err := c.get(ctx, "/markets", &markets); err != nil {
		return false, fmt.Errorf("reya: connect: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to reya", slog.Int("markets", len(markets)))
	return true, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.close()
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.IsConnected() {
		return false
	}
	var markets []marketInfo
	return c.get(ctx, "/markets", &markets) == nil
}

// GetFundingRate returns the funding rate for a venue symbol as a
// percentage. Fresh streamed data wins; stale or missing entries fall back
// to REST.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	entry, ok := c.funding[symbol]
	c.mu.Unlock()
	if ok && time.Since(entry.updatedAt) < fundingCacheTTL {
		return entry.rate, nil
	}

	var market marketInfo
	if err := c.get(ctx, "/markets/"+url.PathEscape(symbol), &market); err != nil {
		return 0, fmt.Errorf("reya: funding rate %s: %w", symbol, err)
	}
	if market.Symbol == "" {
		return 0, domain.ErrNotFound
	}
	return market.FundingRate, nil
}

func (c *Client) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if c.cfg.AccountID == "" {
		return nil, fmt.Errorf("reya: balance: %w", domain.ErrNotConnected)
	}

	var rows []balanceRow
	path := fmt.Sprintf("/accounts/%s/balances", url.PathEscape(c.cfg.AccountID))
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("reya: balance: %w", err)
	}

	balances := make([]domain.Balance, 0, len(rows))
	for _, r := range rows {
		balances = append(balances, domain.Balance{
			Currency:  r.Asset,
			Total:     r.Total,
			Available: r.Available,
			Locked:    r.Total - r.Available,
		})
	}
	return balances, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if c.cfg.AccountID == "" {
		return nil, fmt.Errorf("reya: positions: %w", domain.ErrNotConnected)
	}

	var rows []positionRow
	path := fmt.Sprintf("/accounts/%s/positions", url.PathEscape(c.cfg.AccountID))
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("reya: positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		side := domain.OrderSideBuy
		if r.Size < 0 {
			side = domain.OrderSideSell
		}
		positions = append(positions, domain.Position{
			Symbol:        c.DenormalizeSymbol(r.Symbol),
			Side:          side,
			Size:          r.Size,
			EntryPrice:    r.EntryPrice,
			MarkPrice:     r.MarkPrice,
			UnrealizedPnL: r.UnrealizedPnL,
			Timestamp:     time.Now().UTC(),
		})
	}
	return positions, nil
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, orderType domain.OrderType, price float64) (*domain.Order, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidOrder
	}
	if c.cfg.AccountID == "" {
		return nil, fmt.Errorf("reya: place order: %w", domain.ErrNotConnected)
	}

	req := orderRequest{
		AccountID: c.cfg.AccountID,
		Symbol:    symbol,
		Side:      string(side),
		Type:      string(orderType),
		Size:      amount,
		Price:     price,
	}

	var resp orderResponse
	if err := c.post(ctx, "/orders", req, &resp); err != nil {
		return nil, fmt.Errorf("reya: place order %s: %w", symbol, err)
	}

	c.logger.Info("order placed",
		slog.String("order_id", resp.OrderID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
	)

	return &domain.Order{
		ID:        resp.OrderID,
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Amount:    amount,
		Price:     price,
		Status:    domain.OrderStatus(resp.Status),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
		return false, fmt.Errorf("reya: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	var resp orderStatusResponse
	if err := c.get(ctx, "/orders/"+url.PathEscape(orderID), &resp); err != nil {
		return nil, fmt.Errorf("reya: order status %s: %w", orderID, err)
	}
	if resp.OrderID == "" {
		return nil, domain.ErrNotFound
	}

	return &domain.Order{
		ID:           resp.OrderID,
		Symbol:       resp.Symbol,
		Side:         domain.OrderSide(resp.Side),
		Type:         domain.OrderType(resp.Type),
		Amount:       resp.Size,
		Price:        resp.AvgPrice,
		Status:       domain.OrderStatus(resp.Status),
		FilledAmount: resp.FilledSize,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// NormalizeSymbol converts a standard BASE-USD symbol to Reya's BASE-rUSD
// market naming.
func (c *Client) NormalizeSymbol(symbol string) string {
	base, _, err := splitPair(symbol)
	if err != nil {
		return symbol
	}
	return base + "-" + quoteAsset
}

// DenormalizeSymbol converts BASE-rUSD back to the standard BASE-USD form.
func (c *Client) DenormalizeSymbol(symbol string) string {
	base, quote, err := splitPair(symbol)
	if err != nil {
		return symbol
	}
	if quote == quoteAsset {
		return base + "-USD"
	}
	return symbol
}

func splitPair(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("reya: invalid symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}

// SubscribeFundingRates opens the funding websocket and subscribes the given
// venue symbols. Streamed updates land in the funding cache consumed by
// GetFundingRate.
func (c *Client) SubscribeFundingRates(ctx context.Context, symbols []string) error {
	if c.cfg.WebsocketURL == "" {
		return fmt.Errorf("reya: subscribe: no websocket url configured")
	}

	c.mu.Lock()
	if c.ws == nil {
		c.ws = newWSStream(c.cfg.WebsocketURL, c.logger, c.storeFundingUpdate)
	}
	ws := c.ws
	c.mu.Unlock()

	if err := ws.connect(ctx); err != nil {
		return fmt.Errorf("reya: subscribe: %w", err)
	}
	if err := ws.subscribe(symbols); err != nil {
		return fmt.Errorf("reya: subscribe: %w", err)
	}
	return nil
}

func (c *Client) storeFundingUpdate(symbol string, rate float64) {
	c.mu.Lock()
	c.funding[symbol] = fundingEntry{rate: rate, updatedAt: time.Now().UTC()}
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type marketInfo struct {
	Symbol      string  `json:"symbol"`
	FundingRate float64 `json:"fundingRate,string"`
	MarkPrice   float64 `json:"markPrice,string"`
}

type balanceRow struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total,string"`
	Available float64 `json:"available,string"`
}

type positionRow struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size,string"`
	EntryPrice    float64 `json:"entryPrice,string"`
	MarkPrice     float64 `json:"markPrice,string"`
	UnrealizedPnL float64 `json:"unrealizedPnl,string"`
}

type orderRequest struct {
	AccountID string  `json:"accountId"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type orderStatusResponse struct {
	OrderID    string  `json:"orderId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Size       float64 `json:"size,string"`
	FilledSize float64 `json:"filledSize,string"`
	AvgPrice   float64 `json:"avgPrice,string"`
	Status     string  `json:"status"`
}
