package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionAction is the intended exposure on one venue.
type PositionAction string

const (
	ActionLong  PositionAction = "long"
	ActionShort PositionAction = "short"
)

// OrderSideFor maps an intended exposure to the order side that opens it.
func OrderSideFor(action PositionAction) OrderSide {
	if action == ActionLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle on a venue.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a venue-side order handle.
type Order struct {
	ID           string
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Amount       float64
	Price        float64 // zero for market orders until filled
	Status       OrderStatus
	FilledAmount float64
	Timestamp    time.Time
}

// Balance is one currency row of a venue account.
type Balance struct {
	Currency  string
	Total     float64
	Available float64
	Locked    float64
}

// Position is an open venue position.
type Position struct {
	Symbol        string
	Side          OrderSide
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Timestamp     time.Time
}

// StableCurrencies lists the currencies counted as available trading capital.
// rUSD is Reya's wrapped settlement asset.
var StableCurrencies = map[string]bool{
	"USD":  true,
	"USDT": true,
	"USDC": true,
	"rUSD": true,
}

// StableAvailable sums the free stable-currency balance of an account.
func StableAvailable(balances []Balance) float64 {
	var total float64
	for _, b := range balances {
		if StableCurrencies[b.Currency] {
			total += b.Available
		}
	}
	return total
}
