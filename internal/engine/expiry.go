package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/store"
)

// ExpireRouter is the subset of the Router the ExpiryScheduler needs. It is
// declared here, not imported, because internal/router imports internal/engine
// to build Engines.
type ExpireRouter interface {
	Expire(ctx context.Context, orderID string) Result
}

// ExpiryScheduler periodically finds resting orders whose tif_seconds has
// elapsed and routes an Expire intent for each through the Router. It never
// touches a Book directly: the Expire intent's own handling is what mutates
// book and ledger state, same as an externally requested cancellation.
type ExpiryScheduler struct {
	interval time.Duration
	batch    int
	db       *gorm.DB
	orders   *store.OrderStore
	router   ExpireRouter
	logger   *zap.Logger
}

func NewExpiryScheduler(interval time.Duration, batch int, db *gorm.DB, orders *store.OrderStore, router ExpireRouter, logger *zap.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		interval: interval,
		batch:    batch,
		db:       db,
		orders:   orders,
		router:   router,
		logger:   logger,
	}
}

// Start launches the scheduler's tick loop in a new goroutine, returning
// immediately. The loop exits when ctx is cancelled.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// tick loads every order whose TIF elapsed as of now and dispatches one
// Expire intent per order. An order may expire up to one tick late; it is
// never expired early, since LoadExpirableInTx's comparison is strict.
func (s *ExpiryScheduler) tick(ctx context.Context, now time.Time) {
	var expired []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders, err := s.orders.LoadExpirableInTx(tx, now, s.batch)
		if err != nil {
			return err
		}
		for _, o := range orders {
			expired = append(expired, o.OrderID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("load expirable orders failed", zap.Error(err))
		return
	}
	for _, orderID := range expired {
		res := s.router.Expire(ctx, orderID)
		if res.Err != nil {
			s.logger.Warn("expiry cancel failed", zap.String("order_id", orderID), zap.Error(res.Err))
		}
	}
}
