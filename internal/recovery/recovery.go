// Package recovery rebuilds each symbol's in-memory Book from the
// persistent store at startup, before any Engine begins consuming intents.
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/domain"
	"github.com/mercadex/matchcore/internal/engine"
	"github.com/mercadex/matchcore/internal/ledger"
	"github.com/mercadex/matchcore/internal/outbox"
	"github.com/mercadex/matchcore/internal/sequencer"
	"github.com/mercadex/matchcore/internal/settlement"
	"github.com/mercadex/matchcore/internal/store"
)

// Rebuild constructs one Engine per symbol, with its Book already populated
// from every OPEN or PARTIALLY_FILLED order on the symbol. It runs once,
// before Router.New, so no Engine's Run loop is consuming intents while the
// book is being filled in.
func Rebuild(
	ctx context.Context,
	symbols []string,
	db *gorm.DB,
	seq *sequencer.Store,
	led *ledger.Store,
	orders *store.OrderStore,
	ob *outbox.Store,
	settler *settlement.Settler,
	cfg engine.Config,
	logger *zap.Logger,
) (map[string]*engine.Engine, error) {
	engines := make(map[string]*engine.Engine, len(symbols))
	for _, symbol := range symbols {
		book := engine.NewBook(symbol)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return orders.LoadOpenOrdersInTx(tx, symbol, func(o *domain.Order) error {
				if o.LimitPriceInCents == nil {
					return fmt.Errorf("rebuild %s: resting order %s has no limit price", symbol, o.OrderID)
				}
				if o.SequenceNumber == nil {
					return fmt.Errorf("rebuild %s: resting order %s has no sequence number", symbol, o.OrderID)
				}
				book.Add(o.Side, engine.BookEntry{
					Price:          *o.LimitPriceInCents,
					SequenceNumber: *o.SequenceNumber,
					OrderID:        o.OrderID,
					TraderID:       o.TraderID,
					Remaining:      o.RemainingQuantity(),
				})
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("rebuild book for %s: %w", symbol, err)
		}
		logger.Info("book rebuilt",
			zap.String("symbol", symbol),
			zap.Int("bids", book.BidCount()),
			zap.Int("asks", book.AskCount()),
		)
		engines[symbol] = engine.NewEngine(symbol, book, db, seq, led, orders, ob, settler, cfg, logger)
	}
	return engines, nil
}
