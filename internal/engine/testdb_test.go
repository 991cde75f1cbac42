package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mercadex/matchcore/internal/ledger"
	"github.com/mercadex/matchcore/internal/outbox"
	"github.com/mercadex/matchcore/internal/sequencer"
	"github.com/mercadex/matchcore/internal/settlement"
	"github.com/mercadex/matchcore/internal/store"
)

func noopLogger() *zap.Logger { return zap.NewNop() }

// openTestDB opens a fresh in-memory sqlite database with every table
// migrated, mirroring the pack's own sqlite(":memory:") test convention.
// A single shared connection is required: sqlite's in-memory mode creates a
// new, empty database per connection otherwise.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(store.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedTrader inserts a trader_accounts row with the given cash balance.
func seedTrader(t *testing.T, db *gorm.DB, traderID string, cashCents int64, admin bool) {
	t.Helper()
	row := &store.TraderAccountRow{
		TraderID:           traderID,
		Active:             true,
		Admin:              admin,
		CashBalanceInCents: cashCents,
		CreatedAt:          time.Now().UTC(),
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed trader %s: %v", traderID, err)
	}
}

// seedPosition inserts a positions row giving traderID qty shares of symbol.
func seedPosition(t *testing.T, db *gorm.DB, traderID, symbol string, qty int64) {
	t.Helper()
	row := &store.PositionRow{TraderID: traderID, Symbol: symbol, Quantity: qty}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed position %s/%s: %v", traderID, symbol, err)
	}
}

// newTestEngine wires an Engine against db for symbol with a fresh, empty
// book, the same composition cmd/matchcore/main.go performs at startup, and
// starts its Run loop in the background so Submit/Cancel/Snapshot calls have
// a consumer to reply to them. The loop is stopped when the test ends.
func newTestEngine(t *testing.T, db *gorm.DB, symbol string) *Engine {
	t.Helper()
	ledgerStore := ledger.NewStore()
	orderStore := store.NewOrderStore()
	tradeStore := store.NewTradeStore()
	outboxStore := outbox.NewStore()
	seqStore := sequencer.NewStore()
	settler := settlement.NewSettler(ledgerStore, orderStore, tradeStore, outboxStore)
	eng := NewEngine(symbol, NewBook(symbol), db, seqStore, ledgerStore, orderStore, outboxStore, settler,
		Config{QueueCapacity: 256, MaxRetries: 1, RetryBaseMS: 1, RetryMaxMS: 1}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)
	return eng
}

func cashBalance(t *testing.T, db *gorm.DB, traderID string) (balance, reserved int64) {
	t.Helper()
	var row store.TraderAccountRow
	if err := db.Where("trader_id = ?", traderID).First(&row).Error; err != nil {
		t.Fatalf("load trader %s: %v", traderID, err)
	}
	return row.CashBalanceInCents, row.ReservedCashInCents
}

func positionRow(t *testing.T, db *gorm.DB, traderID, symbol string) store.PositionRow {
	t.Helper()
	var row store.PositionRow
	if err := db.Where("trader_id = ? AND symbol = ?", traderID, symbol).First(&row).Error; err != nil {
		t.Fatalf("load position %s/%s: %v", traderID, symbol, err)
	}
	return row
}

func orderRow(t *testing.T, db *gorm.DB, orderID string) store.OrderRow {
	t.Helper()
	var row store.OrderRow
	if err := db.Where("order_id = ?", orderID).First(&row).Error; err != nil {
		t.Fatalf("load order %s: %v", orderID, err)
	}
	return row
}

func tradeCount(t *testing.T, db *gorm.DB, symbol string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&store.TradeRow{}).Where("symbol = ?", symbol).Count(&n).Error; err != nil {
		t.Fatalf("count trades: %v", err)
	}
	return n
}

func outboxCount(t *testing.T, db *gorm.DB, symbol, eventType string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&store.OutboxEventRow{}).Where("symbol = ? AND type = ?", symbol, eventType).Count(&n).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return n
}

func ptr(v int64) *int64 { return &v }
