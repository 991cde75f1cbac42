// Package store holds the GORM row models and repository operations for
// orders, trades, positions, trader accounts, and sequence counters. Every
// mutating function takes the caller's transaction handle; none opens its
// own transaction or commits.
package store

import "time"

// TraderAccountRow is the trader_accounts table.
type TraderAccountRow struct {
	TraderID            string `gorm:"column:trader_id;primaryKey"`
	Active              bool
	Admin               bool
	CashBalanceInCents  int64
	ReservedCashInCents int64
	CreatedAt           time.Time
}

func (TraderAccountRow) TableName() string { return "trader_accounts" }

// PositionRow is the positions table, unique per (trader_id, symbol).
type PositionRow struct {
	ID                 uint64 `gorm:"primaryKey;autoIncrement"`
	TraderID           string `gorm:"column:trader_id;uniqueIndex:idx_positions_trader_symbol"`
	Symbol             string `gorm:"uniqueIndex:idx_positions_trader_symbol"`
	Quantity           int64
	ReservedShares     int64
	AverageCostInCents int64
}

func (PositionRow) TableName() string { return "positions" }

// OrderRow is the orders table.
type OrderRow struct {
	OrderID           string `gorm:"column:order_id;primaryKey"`
	TraderID          string `gorm:"column:trader_id;index"`
	Symbol            string `gorm:"index:idx_orders_symbol_status;index:idx_orders_symbol_seq"`
	Side              string
	Type              string
	LimitPriceInCents *int64
	Quantity          int64
	FilledQuantity    int64
	Status            string `gorm:"index:idx_orders_symbol_status"`
	TIFSeconds        *int64
	CreatedAt         time.Time
	SequenceNumber    *int64 `gorm:"index:idx_orders_symbol_seq"`
	CancelledAt       *time.Time
	ExpiredAt         *time.Time
}

func (OrderRow) TableName() string { return "orders" }

// TradeRow is the trades table, insert-only.
type TradeRow struct {
	TradeID      string `gorm:"column:trade_id;primaryKey"`
	Symbol       string `gorm:"index"`
	PriceInCents int64
	Quantity     int64
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	MakerOrderID string
	TakerOrderID string
	ExecutedAt   time.Time `gorm:"index"`
}

func (TradeRow) TableName() string { return "trades" }

// LedgerEntryRow is the ledger_entries table, insert-only double-entry rows.
type LedgerEntryRow struct {
	EntryID          string `gorm:"column:entry_id;primaryKey"`
	TradeID          *string
	TraderID         string `gorm:"index"`
	DeltaCashInCents int64
	DeltaShares      int64
	Symbol           *string
	Kind             string
	CreatedAt        time.Time
}

func (LedgerEntryRow) TableName() string { return "ledger_entries" }

// SequenceCounterRow is the sequence_counters table, one row per symbol.
type SequenceCounterRow struct {
	Symbol             string `gorm:"primaryKey"`
	NextSequenceNumber int64
}

func (SequenceCounterRow) TableName() string { return "sequence_counters" }

// OutboxEventRow is the market_data_outbox table, insert-only.
type OutboxEventRow struct {
	EventID     string `gorm:"column:event_id;primaryKey"`
	Symbol      string `gorm:"index"`
	Type        string
	Payload     []byte
	CreatedAt   time.Time `gorm:"index"`
	PublishedAt *time.Time
}

func (OutboxEventRow) TableName() string { return "market_data_outbox" }

// AllModels lists every row type for AutoMigrate at startup.
func AllModels() []any {
	return []any{
		&TraderAccountRow{},
		&PositionRow{},
		&OrderRow{},
		&TradeRow{},
		&LedgerEntryRow{},
		&SequenceCounterRow{},
		&OutboxEventRow{},
	}
}
