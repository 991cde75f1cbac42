package domain

import "time"

// OrderType distinguishes limit, market, and immediate-or-cancel orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeIOC    OrderType = "IOC"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether status admits no further transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is a single order intent, resting or resolved.
type Order struct {
	OrderID           string
	TraderID          string
	Symbol            string
	Side              OrderSide
	Type              OrderType
	LimitPriceInCents *int64 // required for LIMIT, optional for IOC, nil for MARKET
	Quantity          int64
	FilledQuantity    int64
	Status            OrderStatus
	TIFSeconds        *int64 // nil means good-till-cancel; LIMIT only
	CreatedAt         time.Time
	SequenceNumber    *int64 // assigned on acceptance, per symbol
	CancelledAt       *time.Time
	ExpiredAt         *time.Time
	Trades            []*Trade
}

// RemainingQuantity is the quantity still eligible for matching or resting.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// AveragePrice computes the volume-weighted average execution price as
// sum(trade.price x trade.quantity) / filled_quantity. Returns (0, false)
// when no trades have been executed.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Trades) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, t := range o.Trades {
		total += t.PriceInCents * t.Quantity
	}
	return total / o.FilledQuantity, true
}
