// Package exchangetest provides a configurable in-memory exchange.Client for
// tests. Every failure mode of a real venue (connect refusal, stale data,
// order rejection) can be switched on per test.
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// FakeClient implements exchange.Client with scriptable behavior. The zero
// value is a healthy, connectable venue with no data; use NewFake for a
// venue pre-funded with stable balance.
type FakeClient struct {
	VenueName string

	ConnectOK  bool
	ConnectErr error
	Healthy    bool

	FundingRates map[string]float64
	FundingErr   error

	Balances   []domain.Balance
	BalanceErr error

	Positions    []domain.Position
	PositionsErr error

	PlaceErr        error
	FillImmediately bool
	FillPrice       float64
	CancelErr       error

	// SymbolSuffix is appended by NormalizeSymbol and stripped by
	// DenormalizeSymbol; empty means identity mapping.
	SymbolSuffix string

	mu          sync.Mutex
	connected   bool
	orders      map[string]*domain.Order
	orderSeq    int
	CancelCalls []string
}

// NewFake returns a healthy venue with the given free USD balance.
func NewFake(name string, availableUSD float64) *FakeClient {
	return &FakeClient{
		VenueName:       name,
		ConnectOK:       true,
		Healthy:         true,
		FillImmediately: true,
		FillPrice:       50000,
		FundingRates:    make(map[string]float64),
		Balances: []domain.Balance{
			{Currency: "USD", Total: availableUSD, Available: availableUSD},
		},
	}
}

func (f *FakeClient) Name() string { return f.VenueName }

func (f *FakeClient) Connect(ctx context.Context) (bool, error) {
	if f.ConnectErr != nil {
		return false, f.ConnectErr
	}
	f.mu.Lock()
	f.connected = f.ConnectOK
	f.mu.Unlock()
	return f.ConnectOK, nil
}

func (f *FakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeClient) HealthCheck(ctx context.Context) bool { return f.Healthy }

func (f *FakeClient) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	if f.FundingErr != nil {
		return 0, f.FundingErr
	}
	rate, ok := f.FundingRates[symbol]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return rate, nil
}

func (f *FakeClient) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return append([]domain.Balance(nil), f.Balances...), nil
}

func (f *FakeClient) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if f.PositionsErr != nil {
		return nil, f.PositionsErr
	}
	return append([]domain.Position(nil), f.Positions...), nil
}

func (f *FakeClient) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, orderType domain.OrderType, price float64) (*domain.Order, error) {
	if f.PlaceErr != nil {
		return nil, f.PlaceErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderSeq++
	order := &domain.Order{
		ID:        fmt.Sprintf("%s-order-%d", f.VenueName, f.orderSeq),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Amount:    amount,
		Price:     price,
		Status:    domain.OrderStatusOpen,
		Timestamp: time.Now().UTC(),
	}
	if f.FillImmediately {
		order.Status = domain.OrderStatusFilled
		order.FilledAmount = amount
		order.Price = f.FillPrice
	}
	if f.orders == nil {
		f.orders = make(map[string]*domain.Order)
	}
	f.orders[order.ID] = order

	cp := *order
	return &cp, nil
}

func (f *FakeClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	f.CancelCalls = append(f.CancelCalls, orderID)
	order, ok := f.orders[orderID]
	f.mu.Unlock()

	if f.CancelErr != nil {
		return false, f.CancelErr
	}
	if !ok {
		return false, domain.ErrNotFound
	}
	if order.Status != domain.OrderStatusFilled {
		order.Status = domain.OrderStatusCancelled
	}
	return true, nil
}

func (f *FakeClient) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

// FillOrder marks a placed order as filled at the given price. Used to drive
// the executor's fill polling in tests.
func (f *FakeClient) FillOrder(orderID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order, ok := f.orders[orderID]; ok {
		order.Status = domain.OrderStatusFilled
		order.FilledAmount = order.Amount
		order.Price = price
	}
}

// PlacedOrders returns every order placed on this fake, oldest first.
func (f *FakeClient) PlacedOrders() []*domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Order, 0, len(f.orders))
	for i := 1; i <= f.orderSeq; i++ {
		id := fmt.Sprintf("%s-order-%d", f.VenueName, i)
		if o, ok := f.orders[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

func (f *FakeClient) NormalizeSymbol(symbol string) string {
	if f.SymbolSuffix == "" {
		return symbol
	}
	return symbol + f.SymbolSuffix
}

func (f *FakeClient) DenormalizeSymbol(symbol string) string {
	if f.SymbolSuffix == "" {
		return symbol
	}
	if n := len(symbol) - len(f.SymbolSuffix); n > 0 && symbol[n:] == f.SymbolSuffix {
		return symbol[:n]
	}
	return symbol
}
