// Package outbox implements the write side of the transactional outbox
// pattern: every append happens inside the same transaction as the state
// change it describes. The read-side publisher is out of scope.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/store"
)

// EventType is one of the five market-data outbox event kinds.
type EventType string

const (
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
	EventOrderAccepted  EventType = "ORDER_ACCEPTED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventOrderExpired   EventType = "ORDER_EXPIRED"
	EventBookChanged    EventType = "BOOK_CHANGED"
)

// TradeExecutedPayload mirrors the TRADE_EXECUTED wire schema.
type TradeExecutedPayload struct {
	Symbol       string    `json:"symbol"`
	TradeID      string    `json:"trade_id"`
	PriceInCents int64     `json:"price_in_cents"`
	Quantity     int64     `json:"quantity"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	MakerOrderID string    `json:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// OrderAcceptedPayload mirrors the ORDER_ACCEPTED wire schema.
type OrderAcceptedPayload struct {
	OrderID           string    `json:"order_id"`
	Symbol            string    `json:"symbol"`
	Side              string    `json:"side"`
	Type              string    `json:"type"`
	Quantity          int64     `json:"quantity"`
	LimitPriceInCents *int64    `json:"limit_price_in_cents,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// OrderCancelledPayload mirrors the ORDER_CANCELLED wire schema.
type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderExpiredPayload mirrors the ORDER_EXPIRED wire schema.
type OrderExpiredPayload struct {
	OrderID string `json:"order_id"`
}

// BookChangedPayload is a snapshot of top-of-book state, the same shape the
// original implementation nests under a trade event's "book" field,
// promoted here to its own event type per the outbox event catalogue.
type BookChangedPayload struct {
	Symbol           string `json:"symbol"`
	BestBidInCents   *int64 `json:"best_bid_in_cents,omitempty"`
	BestAskInCents   *int64 `json:"best_ask_in_cents,omitempty"`
	BidSize          *int64 `json:"bid_size,omitempty"`
	AskSize          *int64 `json:"ask_size,omitempty"`
	LastPriceInCents *int64 `json:"last_price_in_cents,omitempty"`
}

// Event is a tagged outbox record ready for insertion.
type Event struct {
	Type    EventType
	Symbol  string
	Payload any
}

// Store appends outbox rows within the caller's transaction.
type Store struct{}

func NewStore() *Store { return &Store{} }

// AppendInTx marshals Payload to JSON and inserts one row with
// published_at = NULL. Must be called inside the same transaction as the
// state change the event describes.
func (s *Store) AppendInTx(tx *gorm.DB, e Event) error {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	row := &store.OutboxEventRow{
		EventID:   uuid.NewString(),
		Symbol:    e.Symbol,
		Type:      string(e.Type),
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}
