// Package router maps symbols to their Engine and dispatches every inbound
// intent to the right one. It is built once at startup from the closed
// symbol registry; no symbol is ever added or removed while the process
// runs.
package router

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/domain"
	"github.com/mercadex/matchcore/internal/engine"
	"github.com/mercadex/matchcore/internal/store"
)

// Router dispatches Submit/Cancel/Snapshot calls to the Engine for the
// relevant symbol. The engines map is built once by New and never mutated
// afterward, so no lock is needed to read it concurrently.
type Router struct {
	engines map[string]*engine.Engine
	db      *gorm.DB
	orders  *store.OrderStore
}

// New builds a Router from a pre-constructed symbol -> Engine map. It does
// not start any Engine's Run loop; the caller does that separately so it
// can also drive each loop's lifecycle against the same context.
func New(engines map[string]*engine.Engine, db *gorm.DB, orders *store.OrderStore) *Router {
	return &Router{engines: engines, db: db, orders: orders}
}

// Symbols returns every symbol this Router knows about, in no particular
// order.
func (r *Router) Symbols() []string {
	out := make([]string, 0, len(r.engines))
	for symbol := range r.engines {
		out = append(out, symbol)
	}
	return out
}

// Submit routes req to its symbol's Engine, or replies UNKNOWN_SYMBOL if no
// Engine exists for it.
func (r *Router) Submit(ctx context.Context, req engine.SubmitRequest, deadline time.Time) engine.Result {
	eng, ok := r.engines[req.Symbol]
	if !ok {
		return engine.Result{
			Status:          domain.OrderStatusRejected,
			RejectionReason: domain.RejectionUnknownSymbol,
			Err:             domain.ErrUnknownSymbol,
		}
	}
	return eng.Submit(ctx, req, deadline)
}

// Cancel resolves orderID's symbol from the persistent store, then routes
// an externally requested cancellation to that symbol's Engine. This
// mirrors the original router's need to resolve a ticker from order state
// it does not itself hold.
func (r *Router) Cancel(ctx context.Context, orderID string) engine.Result {
	eng, err := r.engineForOrder(ctx, orderID)
	if err != nil {
		return engine.Result{Err: err, CancelOutcome: engine.CancelOutcomeUnknown}
	}
	return eng.Cancel(ctx, orderID)
}

// Expire resolves orderID's symbol and routes a TIF expiration to that
// symbol's Engine. Only the ExpiryScheduler calls this.
func (r *Router) Expire(ctx context.Context, orderID string) engine.Result {
	eng, err := r.engineForOrder(ctx, orderID)
	if err != nil {
		return engine.Result{Err: err, CancelOutcome: engine.CancelOutcomeUnknown}
	}
	return eng.Expire(ctx, orderID)
}

// Snapshot returns the top depth levels of symbol's book, or UNKNOWN_SYMBOL
// if no Engine exists for it.
func (r *Router) Snapshot(ctx context.Context, symbol string, depth int) engine.Result {
	eng, ok := r.engines[symbol]
	if !ok {
		return engine.Result{Err: domain.ErrUnknownSymbol}
	}
	return eng.Snapshot(ctx, depth)
}

func (r *Router) engineForOrder(ctx context.Context, orderID string) (*engine.Engine, error) {
	var symbol string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := r.orders.SymbolForOrderInTx(tx, orderID)
		if err != nil {
			return err
		}
		symbol = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	eng, ok := r.engines[symbol]
	if !ok {
		return nil, domain.ErrUnknownSymbol
	}
	return eng, nil
}
