// Package ledger implements the double-entry cash and share reservation
// and settlement operations of the Ledger & Position Store. Every method
// takes the caller's transaction handle.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercadex/matchcore/internal/domain"
	"github.com/mercadex/matchcore/internal/store"
)

// Store composes trader-account and position mutations with ledger entry
// inserts, grounded on the teacher-adjacent GORM transaction idiom
// (tx.Clauses(clause.Locking{...}).First, tx.Model(...).Update).
type Store struct{}

func NewStore() *Store { return &Store{} }

// LookupTraderInTx reads a trader account without locking, used by the
// Engine to check the active flag before reserving anything.
func (s *Store) LookupTraderInTx(tx *gorm.DB, traderID string) (*domain.TraderAccount, error) {
	var row store.TraderAccountRow
	err := tx.Where("trader_id = ?", traderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTraderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup trader account: %w", err)
	}
	return &domain.TraderAccount{
		TraderID:             row.TraderID,
		Active:               row.Active,
		Admin:                row.Admin,
		CashBalanceInCents:   row.CashBalanceInCents,
		ReservedCashInCents:  row.ReservedCashInCents,
		CreatedAt:            row.CreatedAt,
	}, nil
}

func (s *Store) lockTrader(tx *gorm.DB, traderID string) (*store.TraderAccountRow, error) {
	var row store.TraderAccountRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trader_id = ?", traderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTraderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock trader account: %w", err)
	}
	return &row, nil
}

func (s *Store) lockOrCreatePosition(tx *gorm.DB, traderID, symbol string) (*store.PositionRow, error) {
	var row store.PositionRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trader_id = ? AND symbol = ?", traderID, symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = store.PositionRow{TraderID: traderID, Symbol: symbol}
		if err := tx.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		return &row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock position: %w", err)
	}
	return &row, nil
}

func (s *Store) insertEntry(tx *gorm.DB, traderID string, tradeID, symbol *string, deltaCash, deltaShares int64, kind string) error {
	row := &store.LedgerEntryRow{
		EntryID:          uuid.NewString(),
		TradeID:          tradeID,
		TraderID:         traderID,
		DeltaCashInCents: deltaCash,
		DeltaShares:      deltaShares,
		Symbol:           symbol,
		Kind:             kind,
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ReserveCashInTx earmarks cents against trader's available cash. Admin
// accounts bypass the sufficiency check (their balance may go negative).
func (s *Store) ReserveCashInTx(tx *gorm.DB, traderID string, cents int64) error {
	trader, err := s.lockTrader(tx, traderID)
	if err != nil {
		return err
	}
	if !trader.Admin && trader.CashBalanceInCents-trader.ReservedCashInCents < cents {
		return domain.ErrInsufficientCash
	}
	if err := tx.Model(&store.TraderAccountRow{}).Where("trader_id = ?", traderID).
		Update("reserved_cash_in_cents", trader.ReservedCashInCents+cents).Error; err != nil {
		return fmt.Errorf("reserve cash: %w", err)
	}
	return s.insertEntry(tx, traderID, nil, nil, -cents, 0, "RESERVE")
}

// ReleaseCashInTx returns previously reserved cents. Releasing more than
// is reserved is a programmer error: it returns an error and changes
// nothing, rather than clamping silently.
func (s *Store) ReleaseCashInTx(tx *gorm.DB, traderID string, cents int64) error {
	if cents == 0 {
		return nil
	}
	trader, err := s.lockTrader(tx, traderID)
	if err != nil {
		return err
	}
	if cents > trader.ReservedCashInCents {
		return fmt.Errorf("release cash: releasing %d exceeds reserved %d for trader %s", cents, trader.ReservedCashInCents, traderID)
	}
	if err := tx.Model(&store.TraderAccountRow{}).Where("trader_id = ?", traderID).
		Update("reserved_cash_in_cents", trader.ReservedCashInCents-cents).Error; err != nil {
		return fmt.Errorf("release cash: %w", err)
	}
	return s.insertEntry(tx, traderID, nil, nil, cents, 0, "RELEASE")
}

// ReserveSharesInTx earmarks qty shares against trader's available
// position in symbol. There is no admin bypass for sells: a short sale is
// never permitted regardless of account flags.
func (s *Store) ReserveSharesInTx(tx *gorm.DB, traderID, symbol string, qty int64) error {
	pos, err := s.lockOrCreatePosition(tx, traderID, symbol)
	if err != nil {
		return err
	}
	if pos.Quantity-pos.ReservedShares < qty {
		return domain.ErrInsufficientShares
	}
	if err := tx.Model(&store.PositionRow{}).Where("trader_id = ? AND symbol = ?", traderID, symbol).
		Update("reserved_shares", pos.ReservedShares+qty).Error; err != nil {
		return fmt.Errorf("reserve shares: %w", err)
	}
	sym := symbol
	return s.insertEntry(tx, traderID, nil, &sym, 0, -qty, "RESERVE")
}

// ReleaseSharesInTx returns previously reserved shares.
func (s *Store) ReleaseSharesInTx(tx *gorm.DB, traderID, symbol string, qty int64) error {
	if qty == 0 {
		return nil
	}
	pos, err := s.lockOrCreatePosition(tx, traderID, symbol)
	if err != nil {
		return err
	}
	if qty > pos.ReservedShares {
		return fmt.Errorf("release shares: releasing %d exceeds reserved %d for trader %s symbol %s", qty, pos.ReservedShares, traderID, symbol)
	}
	if err := tx.Model(&store.PositionRow{}).Where("trader_id = ? AND symbol = ?", traderID, symbol).
		Update("reserved_shares", pos.ReservedShares-qty).Error; err != nil {
		return fmt.Errorf("release shares: %w", err)
	}
	sym := symbol
	return s.insertEntry(tx, traderID, nil, &sym, 0, qty, "RELEASE")
}

// SettleTradeInTx moves reserved resources into realized balances/positions
// for both counterparties of a single trade: buyer loses reserved cash and
// gains shares, seller loses reserved shares and gains cash. Writes exactly
// two ledger entries, zero-sum on cash and on shares.
func (s *Store) SettleTradeInTx(tx *gorm.DB, t *domain.Trade) error {
	costInCents := t.PriceInCents * t.Quantity
	tradeID := t.TradeID

	buyer, err := s.lockTrader(tx, t.BuyerID)
	if err != nil {
		return fmt.Errorf("settle trade: buyer: %w", err)
	}
	if costInCents > buyer.ReservedCashInCents {
		return fmt.Errorf("settle trade: buyer %s reserved cash %d insufficient for cost %d", t.BuyerID, buyer.ReservedCashInCents, costInCents)
	}
	if err := tx.Model(&store.TraderAccountRow{}).Where("trader_id = ?", t.BuyerID).Updates(map[string]any{
		"cash_balance_in_cents":  buyer.CashBalanceInCents - costInCents,
		"reserved_cash_in_cents": buyer.ReservedCashInCents - costInCents,
	}).Error; err != nil {
		return fmt.Errorf("settle trade: debit buyer cash: %w", err)
	}

	seller, err := s.lockTrader(tx, t.SellerID)
	if err != nil {
		return fmt.Errorf("settle trade: seller: %w", err)
	}
	if err := tx.Model(&store.TraderAccountRow{}).Where("trader_id = ?", t.SellerID).
		Update("cash_balance_in_cents", seller.CashBalanceInCents+costInCents).Error; err != nil {
		return fmt.Errorf("settle trade: credit seller cash: %w", err)
	}

	sym := t.Symbol
	if err := s.insertEntry(tx, t.BuyerID, &tradeID, &sym, -costInCents, t.Quantity, "TRADE_BUY"); err != nil {
		return err
	}
	if err := s.insertEntry(tx, t.SellerID, &tradeID, &sym, costInCents, -t.Quantity, "TRADE_SELL"); err != nil {
		return err
	}

	buyerPos, err := s.lockOrCreatePosition(tx, t.BuyerID, t.Symbol)
	if err != nil {
		return fmt.Errorf("settle trade: buyer position: %w", err)
	}
	newAvg := domain.RoundHalfEven(
		buyerPos.Quantity*buyerPos.AverageCostInCents+t.Quantity*t.PriceInCents,
		buyerPos.Quantity+t.Quantity,
	)
	if err := tx.Model(&store.PositionRow{}).Where("trader_id = ? AND symbol = ?", t.BuyerID, t.Symbol).Updates(map[string]any{
		"quantity":             buyerPos.Quantity + t.Quantity,
		"average_cost_in_cents": newAvg,
	}).Error; err != nil {
		return fmt.Errorf("settle trade: update buyer position: %w", err)
	}

	sellerPos, err := s.lockOrCreatePosition(tx, t.SellerID, t.Symbol)
	if err != nil {
		return fmt.Errorf("settle trade: seller position: %w", err)
	}
	if t.Quantity > sellerPos.ReservedShares {
		return fmt.Errorf("settle trade: seller %s reserved shares %d insufficient for qty %d", t.SellerID, sellerPos.ReservedShares, t.Quantity)
	}
	if err := tx.Model(&store.PositionRow{}).Where("trader_id = ? AND symbol = ?", t.SellerID, t.Symbol).Updates(map[string]any{
		"quantity":        sellerPos.Quantity - t.Quantity,
		"reserved_shares": sellerPos.ReservedShares - t.Quantity,
	}).Error; err != nil {
		return fmt.Errorf("settle trade: update seller position: %w", err)
	}

	return nil
}
