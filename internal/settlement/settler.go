// Package settlement composes the ledger, order/trade, and outbox stores
// into the single atomic step the Engine takes for each fill: record the
// trade, move cash and shares, update the maker's resting order, and queue
// the market-data event. Every effect lands in the caller's transaction or
// none of them do.
package settlement

import (
	"fmt"

	"github.com/mercadex/matchcore/internal/domain"
	"github.com/mercadex/matchcore/internal/ledger"
	"github.com/mercadex/matchcore/internal/outbox"
	"github.com/mercadex/matchcore/internal/store"
	"gorm.io/gorm"
)

// FillPlan is one maker/taker crossing ready to be applied.
type FillPlan struct {
	Trade        *domain.Trade
	MakerOrder   *domain.Order // already decremented, status already computed
	TakerOrderID string
}

// Settler applies FillPlans inside a caller-supplied transaction.
type Settler struct {
	ledger *ledger.Store
	orders *store.OrderStore
	trades *store.TradeStore
	outbox *outbox.Store
}

func NewSettler(l *ledger.Store, o *store.OrderStore, t *store.TradeStore, ob *outbox.Store) *Settler {
	return &Settler{ledger: l, orders: o, trades: t, outbox: ob}
}

// Apply records plan.Trade, settles cash/shares for both counterparties,
// persists the maker's updated status/filled quantity, and appends a
// TRADE_EXECUTED outbox event, all inside tx.
func (s *Settler) Apply(tx *gorm.DB, plan FillPlan) error {
	if err := s.trades.RecordInTx(tx, plan.Trade); err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}
	if err := s.ledger.SettleTradeInTx(tx, plan.Trade); err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}
	if err := s.orders.UpdateStatusAndFilledInTx(tx, plan.MakerOrder); err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}
	event := outbox.Event{
		Type:   outbox.EventTradeExecuted,
		Symbol: plan.Trade.Symbol,
		Payload: outbox.TradeExecutedPayload{
			Symbol:       plan.Trade.Symbol,
			TradeID:      plan.Trade.TradeID,
			PriceInCents: plan.Trade.PriceInCents,
			Quantity:     plan.Trade.Quantity,
			BuyerID:      plan.Trade.BuyerID,
			SellerID:     plan.Trade.SellerID,
			MakerOrderID: plan.Trade.MakerOrderID,
			TakerOrderID: plan.Trade.TakerOrderID,
			ExecutedAt:   plan.Trade.ExecutedAt,
		},
	}
	if err := s.outbox.AppendInTx(tx, event); err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}
	return nil
}
