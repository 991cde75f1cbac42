package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercadex/matchcore/internal/domain"
)

// OrderStore persists orders. Every method takes the caller's transaction
// handle; none of them call Begin or Commit.
type OrderStore struct{}

func NewOrderStore() *OrderStore { return &OrderStore{} }

func toOrderRow(o *domain.Order) *OrderRow {
	return &OrderRow{
		OrderID:           o.OrderID,
		TraderID:          o.TraderID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Type:              string(o.Type),
		LimitPriceInCents: o.LimitPriceInCents,
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		Status:            string(o.Status),
		TIFSeconds:        o.TIFSeconds,
		CreatedAt:         o.CreatedAt,
		SequenceNumber:    o.SequenceNumber,
		CancelledAt:       o.CancelledAt,
		ExpiredAt:         o.ExpiredAt,
	}
}

func fromOrderRow(r *OrderRow) *domain.Order {
	return &domain.Order{
		OrderID:           r.OrderID,
		TraderID:          r.TraderID,
		Symbol:            r.Symbol,
		Side:              domain.OrderSide(r.Side),
		Type:              domain.OrderType(r.Type),
		LimitPriceInCents: r.LimitPriceInCents,
		Quantity:          r.Quantity,
		FilledQuantity:    r.FilledQuantity,
		Status:            domain.OrderStatus(r.Status),
		TIFSeconds:        r.TIFSeconds,
		CreatedAt:         r.CreatedAt,
		SequenceNumber:    r.SequenceNumber,
		CancelledAt:       r.CancelledAt,
		ExpiredAt:         r.ExpiredAt,
	}
}

// InsertInTx persists the draft order with status PENDING. The caller is
// responsible for having already assigned SequenceNumber via the sequencer
// inside the same transaction.
func (s *OrderStore) InsertInTx(tx *gorm.DB, o *domain.Order) error {
	row := toOrderRow(o)
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetForUpdateInTx loads an order row under a row lock, for mutation.
func (s *OrderStore) GetForUpdateInTx(tx *gorm.DB, orderID string) (*domain.Order, error) {
	var row OrderRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order for update: %w", err)
	}
	return fromOrderRow(&row), nil
}

// GetInTx loads an order row without locking, for reads.
func (s *OrderStore) GetInTx(tx *gorm.DB, orderID string) (*domain.Order, error) {
	var row OrderRow
	err := tx.Where("order_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return fromOrderRow(&row), nil
}

// UpdateStatusAndFilledInTx enforces monotonic filled_quantity and writes
// the new status plus any terminal timestamps.
func (s *OrderStore) UpdateStatusAndFilledInTx(tx *gorm.DB, o *domain.Order) error {
	updates := map[string]any{
		"status":          string(o.Status),
		"filled_quantity": o.FilledQuantity,
	}
	if o.CancelledAt != nil {
		updates["cancelled_at"] = o.CancelledAt
	}
	if o.ExpiredAt != nil {
		updates["expired_at"] = o.ExpiredAt
	}
	res := tx.Model(&OrderRow{}).
		Where("order_id = ? AND filled_quantity <= ?", o.OrderID, o.FilledQuantity).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update order status: %s: no row updated (monotonicity violated or order missing)", o.OrderID)
	}
	return nil
}

// LoadOpenOrdersInTx streams orders for symbol in ascending sequence_number
// order for recovery, never materializing the full row set at once. Rows
// are not sorted by price or grouped by side.
func (s *OrderStore) LoadOpenOrdersInTx(tx *gorm.DB, symbol string, visit func(*domain.Order) error) error {
	rows, err := tx.Model(&OrderRow{}).
		Where("symbol = ? AND status IN ?", symbol, []string{
			string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled),
		}).
		Order("sequence_number ASC").
		Rows()
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row OrderRow
		if err := tx.ScanRows(rows, &row); err != nil {
			return fmt.Errorf("scan open order row: %w", err)
		}
		if err := visit(fromOrderRow(&row)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadExpirableInTx returns orders whose TIF has elapsed as of now. Read
// only; the caller routes an Expire intent for each through the Router. The
// deadline comparison (created_at + tif_seconds < now) is done in Go rather
// than with driver-specific interval arithmetic in SQL, so it behaves
// identically regardless of which SQL dialect sits behind *gorm.DB.
func (s *OrderStore) LoadExpirableInTx(tx *gorm.DB, now time.Time, limit int) ([]*domain.Order, error) {
	var rows []OrderRow
	err := tx.Model(&OrderRow{}).
		Where("status IN ? AND tif_seconds IS NOT NULL", []string{
			string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled),
		}).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load expirable orders: %w", err)
	}
	out := make([]*domain.Order, 0, limit)
	for i := range rows {
		o := fromOrderRow(&rows[i])
		if o.TIFSeconds == nil {
			continue
		}
		deadline := o.CreatedAt.Add(time.Duration(*o.TIFSeconds) * time.Second)
		if deadline.Before(now) {
			out = append(out, o)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// SymbolForOrderInTx resolves an order's symbol without a row lock, used by
// the Router to dispatch a Cancel intent to the right Engine.
func (s *OrderStore) SymbolForOrderInTx(tx *gorm.DB, orderID string) (string, error) {
	var row OrderRow
	err := tx.Select("symbol").Where("order_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve order symbol: %w", err)
	}
	return row.Symbol, nil
}
