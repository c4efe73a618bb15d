// Package hyperliquid implements the exchange.Client adapter for the
// Hyperliquid perpetuals exchange. All reads go through the POST /info
// endpoint; order flow goes through POST /exchange.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
)

const (
	mainnetURL = "https://api.hyperliquid.xyz"
	testnetURL = "https://api.hyperliquid-testnet.xyz"

	requestTimeout = 30 * time.Second

	// Hyperliquid reports hourly funding; rates are normalized to the
	// 8-hour convention before leaving this package.
	fundingPeriodsPerCycle = 8
)

// Client talks to Hyperliquid's public info API and exchange endpoint.
type Client struct {
	cfg        config.HyperliquidConfig
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
	// asset index by coin name, populated on Connect from the meta universe
	assetIndex map[string]int
	// local order book keyed by the exchange-assigned order id
	orders map[string]*domain.Order
}

// New creates a Hyperliquid client from its configuration section.
func New(cfg config.HyperliquidConfig, logger *slog.Logger) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = mainnetURL
		if cfg.Testnet {
			apiURL = testnetURL
		}
	}
	return &Client{
		cfg:        cfg,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With(slog.String("component", "hyperliquid_client")),
		assetIndex: make(map[string]int),
		orders:     make(map[string]*domain.Order),
	}
}

func (c *Client) Name() string { return "hyperliquid" }

// Connect fetches the exchange metadata and builds the coin-to-asset-index
// table used by order placement.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	var meta metaResponse
	if err := c.info(ctx, infoRequest{Type: "meta"}, &meta); err != nil {
		return false, fmt.Errorf("hyperliquid: connect: %w", err)
	}

	c.mu.Lock()
	for i, asset := range meta.Universe {
		c.assetIndex[asset.Name] = i
	}
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to hyperliquid", slog.Int("assets", len(meta.Universe)))
	return true, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
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
	var meta metaResponse
	return c.info(ctx, infoRequest{Type: "meta"}, &meta) == nil
}

// GetFundingRate returns the funding rate for a coin as a percentage per
// 8-hour cycle.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	var raw []json.RawMessage
	if err := c.info(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return 0, fmt.Errorf("hyperliquid: funding rate %s: %w", symbol, err)
	}
	if len(raw) != 2 {
		return 0, fmt.Errorf("hyperliquid: funding rate %s: unexpected response shape", symbol)
	}

	var meta metaResponse
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return 0, fmt.Errorf("hyperliquid: decode meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return 0, fmt.Errorf("hyperliquid: decode asset contexts: %w", err)
	}

	for i, asset := range meta.Universe {
		if asset.Name != symbol || i >= len(ctxs) {
			continue
		}
		hourly, err := strconv.ParseFloat(ctxs[i].Funding, 64)
		if err != nil {
			return 0, fmt.Errorf("hyperliquid: parse funding for %s: %w", symbol, err)
		}
		// hourly fraction -> percentage per 8h cycle
		return hourly * fundingPeriodsPerCycle * 100, nil
	}
	return 0, domain.ErrNotFound
}

func (c *Client) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	state, err := c.clearinghouseState(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: balance: %w", err)
	}

	total, _ := strconv.ParseFloat(state.MarginSummary.AccountValue, 64)
	available, _ := strconv.ParseFloat(state.Withdrawable, 64)

	return []domain.Balance{{
		Currency:  "USDC",
		Total:     total,
		Available: available,
		Locked:    total - available,
	}}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	state, err := c.clearinghouseState(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		size, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		pnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)

		side := domain.OrderSideBuy
		if size < 0 {
			side = domain.OrderSideSell
		}
		positions = append(positions, domain.Position{
			Symbol:        c.DenormalizeSymbol(ap.Position.Coin),
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			Timestamp:     time.Now().UTC(),
		})
	}
	return positions, nil
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, orderType domain.OrderType, price float64) (*domain.Order, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidOrder
	}
	if c.cfg.PrivateKey == "" {
		return nil, fmt.Errorf("hyperliquid: place order: %w", domain.ErrNotConnected)
	}

	c.mu.Lock()
	asset, ok := c.assetIndex[symbol]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("hyperliquid: place order: unknown asset %q", symbol)
	}

	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset:      asset,
			IsBuy:      side == domain.OrderSideBuy,
			LimitPx:    formatPx(price),
			Sz:         strconv.FormatFloat(amount, 'f', -1, 64),
			ReduceOnly: false,
			OrderType:  wireOrderType(orderType),
		}},
		Grouping: "na",
	}

	var resp exchangeResponse
	if err := c.exchange(ctx, action, &resp); err != nil {
		return nil, fmt.Errorf("hyperliquid: place order %s: %w", symbol, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("hyperliquid: place order %s: %s", symbol, resp.Status)
	}
	oid := resp.firstOrderID()
	if oid == "" {
		return nil, fmt.Errorf("hyperliquid: place order %s: no order id in response", symbol)
	}

	order := &domain.Order{
		ID:        oid,
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Amount:    amount,
		Price:     price,
		Status:    domain.OrderStatusOpen,
		Timestamp: time.Now().UTC(),
	}

	c.mu.Lock()
	c.orders[oid] = order
	c.mu.Unlock()

	c.logger.Info("order placed",
		slog.String("order_id", oid),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
	)

	cp := *order
	return &cp, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("hyperliquid: cancel order: invalid order id %q", orderID)
	}

	c.mu.Lock()
	order, ok := c.orders[orderID]
	var asset int
	if ok {
		asset = c.assetIndex[order.Symbol]
	}
	c.mu.Unlock()
	if !ok {
		return false, domain.ErrNotFound
	}

	action := cancelAction{
		Type:    "cancel",
		Cancels: []wireCancel{{Asset: asset, Oid: oid}},
	}
	var resp exchangeResponse
	if err := c.exchange(ctx, action, &resp); err != nil {
		return false, fmt.Errorf("hyperliquid: cancel order %s: %w", orderID, err)
	}
	return resp.Status == "ok", nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	c.mu.Lock()
	order, ok := c.orders[orderID]
	c.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: order status: invalid order id %q", orderID)
	}

	var resp orderStatusResponse
	req := infoRequest{Type: "orderStatus", User: c.cfg.WalletAddress, Oid: oid}
	if err := c.info(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("hyperliquid: order status %s: %w", orderID, err)
	}

	cp := *order
	switch resp.Order.Status {
	case "filled":
		cp.Status = domain.OrderStatusFilled
		cp.FilledAmount = cp.Amount
		if px, err := strconv.ParseFloat(resp.Order.Order.LimitPx, 64); err == nil && px > 0 {
			cp.Price = px
		}
	case "canceled":
		cp.Status = domain.OrderStatusCancelled
	case "rejected":
		cp.Status = domain.OrderStatusRejected
	}
	return &cp, nil
}

// NormalizeSymbol converts BTC-USD to Hyperliquid's bare coin name BTC.
func (c *Client) NormalizeSymbol(symbol string) string {
	if i := strings.Index(symbol, "-"); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// DenormalizeSymbol converts a bare coin name back to the BASE-USD form.
func (c *Client) DenormalizeSymbol(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return symbol + "-USD"
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *Client) clearinghouseState(ctx context.Context) (*clearinghouseResponse, error) {
	if c.cfg.WalletAddress == "" {
		return nil, domain.ErrNotConnected
	}
	var state clearinghouseResponse
	req := infoRequest{Type: "clearinghouseState", User: c.cfg.WalletAddress}
	if err := c.info(ctx, req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) info(ctx context.Context, in, out any) error {
	return c.post(ctx, "/info", in, out)
}

func (c *Client) exchange(ctx context.Context, action, out any) error {
	payload := exchangeRequest{
		Action: action,
		Nonce:  time.Now().UnixMilli(),
	}
	return c.post(ctx, "/exchange", payload, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func formatPx(price float64) string {
	if price <= 0 {
		return "0"
	}
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func wireOrderType(t domain.OrderType) orderTypeWire {
	if t == domain.OrderTypeLimit {
		return orderTypeWire{Limit: &limitWire{Tif: "Gtc"}}
	}
	// Market orders are expressed as aggressive IOC limit orders.
	return orderTypeWire{Limit: &limitWire{Tif: "Ioc"}}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Oid  int64  `json:"oid,omitempty"`
}

type metaResponse struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type assetCtx struct {
	Funding      string `json:"funding"`
	MarkPx       string `json:"markPx"`
	OpenInterest string `json:"openInterest"`
}

type clearinghouseResponse struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type exchangeRequest struct {
	Action any   `json:"action"`
	Nonce  int64 `json:"nonce"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []wireOrder `json:"orders"`
	Grouping string      `json:"grouping"`
}

type wireOrder struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	LimitPx    string        `json:"p"`
	Sz         string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  orderTypeWire `json:"t"`
}

type orderTypeWire struct {
	Limit *limitWire `json:"limit,omitempty"`
}

type limitWire struct {
	Tif string `json:"tif"`
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []wireCancel `json:"cancels"`
}

type wireCancel struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Resting struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Filled struct {
					Oid int64 `json:"oid"`
				} `json:"filled"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

func (r *exchangeResponse) firstOrderID() string {
	for _, s := range r.Response.Data.Statuses {
		if s.Filled.Oid != 0 {
			return strconv.FormatInt(s.Filled.Oid, 10)
		}
		if s.Resting.Oid != 0 {
			return strconv.FormatInt(s.Resting.Oid, 10)
		}
	}
	return ""
}

type orderStatusResponse struct {
	Order struct {
		Status string `json:"status"`
		Order  struct {
			LimitPx string `json:"limitPx"`
		} `json:"order"`
	} `json:"order"`
}
