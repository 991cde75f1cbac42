package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/domain"
)

// TradeStore persists immutable trade rows.
type TradeStore struct{}

func NewTradeStore() *TradeStore { return &TradeStore{} }

// RecordInTx inserts a trade row. Trades are never updated or deleted.
func (s *TradeStore) RecordInTx(tx *gorm.DB, t *domain.Trade) error {
	row := &TradeRow{
		TradeID:      t.TradeID,
		Symbol:       t.Symbol,
		PriceInCents: t.PriceInCents,
		Quantity:     t.Quantity,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		ExecutedAt:   t.ExecutedAt,
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// LoadByOrderInTx returns all trades touching the given order, most recent
// first, used to build a full order response including its fill history.
func (s *TradeStore) LoadByOrderInTx(tx *gorm.DB, orderID string) ([]*domain.Trade, error) {
	var rows []TradeRow
	err := tx.Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("executed_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load trades by order: %w", err)
	}
	out := make([]*domain.Trade, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		out = append(out, &domain.Trade{
			TradeID: r.TradeID, Symbol: r.Symbol, PriceInCents: r.PriceInCents, Quantity: r.Quantity,
			BuyOrderID: r.BuyOrderID, SellOrderID: r.SellOrderID, BuyerID: r.BuyerID, SellerID: r.SellerID,
			MakerOrderID: r.MakerOrderID, TakerOrderID: r.TakerOrderID, ExecutedAt: r.ExecutedAt,
		})
	}
	return out, nil
}
