package domain

import "time"

// Trade is an immutable record of a single match between a maker and a
// taker order. Quantity and PriceInCents are always positive.
type Trade struct {
	TradeID       string
	Symbol        string
	PriceInCents  int64
	Quantity      int64
	BuyOrderID    string
	SellOrderID   string
	BuyerID       string
	SellerID      string
	MakerOrderID  string
	TakerOrderID  string
	ExecutedAt    time.Time
}
