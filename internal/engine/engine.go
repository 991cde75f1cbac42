package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/domain"
	"github.com/mercadex/matchcore/internal/ledger"
	"github.com/mercadex/matchcore/internal/outbox"
	"github.com/mercadex/matchcore/internal/sequencer"
	"github.com/mercadex/matchcore/internal/settlement"
	"github.com/mercadex/matchcore/internal/store"
	"github.com/mercadex/matchcore/pkg/metrics"
)

// defaultSlippageCushionNum is the fallback MARKET_ORDER_SLIPPAGE_CUSHION
// (1.10) expressed as an integer numerator over 100, used only if a Config
// arrives with SlippageCushionNum unset.
const defaultSlippageCushionNum = 110

// Config bundles the knobs an Engine needs beyond its dependencies.
type Config struct {
	QueueCapacity int
	MaxRetries    int
	RetryBaseMS   int
	RetryMaxMS    int

	// SlippageCushionNum is MARKET_ORDER_SLIPPAGE_CUSHION expressed as an
	// integer numerator over 100 (e.g. 1.10 -> 110), so the worst-case
	// reservation estimate (domain.CeilDiv100) never touches floating point.
	SlippageCushionNum int64
}

// Engine is the single-writer matching loop for one symbol. Only the
// goroutine running Run ever touches book; Submit/Cancel/Snapshot enqueue
// intents and block on a per-call completion handle.
type Engine struct {
	symbol    string
	book      *Book
	intents   chan *Intent
	db        *gorm.DB
	sequencer *sequencer.Store
	ledger    *ledger.Store
	orders    *store.OrderStore
	outbox    *outbox.Store
	settler   *settlement.Settler
	retry     backoffPolicy
	logger    *zap.Logger
	stopped   atomic.Bool

	slippageCushionNum int64
}

// NewEngine wires an Engine for symbol. book should already be populated by
// recovery before Run starts consuming intents.
func NewEngine(
	symbol string,
	book *Book,
	db *gorm.DB,
	seq *sequencer.Store,
	led *ledger.Store,
	orders *store.OrderStore,
	ob *outbox.Store,
	settler *settlement.Settler,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	cushionNum := cfg.SlippageCushionNum
	if cushionNum == 0 {
		cushionNum = defaultSlippageCushionNum
	}
	return &Engine{
		symbol:    symbol,
		book:      book,
		intents:   make(chan *Intent, cfg.QueueCapacity),
		db:        db,
		sequencer: seq,
		ledger:    led,
		orders:    orders,
		outbox:    ob,
		settler:   settler,
		retry: newBackoffPolicy(
			time.Duration(cfg.RetryBaseMS)*time.Millisecond,
			time.Duration(cfg.RetryMaxMS)*time.Millisecond,
			cfg.MaxRetries+1, // the first attempt plus up to MaxRetries retries
		),
		logger:             logger.With(zap.String("symbol", symbol)),
		slippageCushionNum: cushionNum,
	}
}

// Symbol returns the symbol this Engine matches.
func (e *Engine) Symbol() string { return e.symbol }

// Stopped reports whether this Engine has halted after a fatal invariant
// violation. enqueue checks the same flag before sending, so a dead symbol
// fails fast with INTERNAL instead of queuing behind a Run loop that has
// already returned.
func (e *Engine) Stopped() bool { return e.stopped.Load() }

// enqueue sends intent without blocking; a full queue replies BUSY
// immediately rather than making the caller wait behind an unbounded
// backlog.
func (e *Engine) enqueue(ctx context.Context, intent *Intent) Result {
	if e.stopped.Load() {
		return Result{RejectionReason: domain.RejectionInternal, Err: domain.ErrEngineStopped}
	}
	select {
	case e.intents <- intent:
	default:
		return Result{RejectionReason: domain.RejectionBusy, Err: domain.ErrBusy}
	}
	metrics.QueueDepth.WithLabelValues(e.symbol).Set(float64(len(e.intents)))
	select {
	case res := <-intent.reply:
		return res
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Submit enqueues a new order. deadline, if non-zero, is checked at dequeue
// time: if the intent is still queued once its deadline passes, the Engine
// replies TIMEOUT without opening a transaction.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest, deadline time.Time) Result {
	intent := newIntent(KindSubmit)
	intent.Submit = req
	intent.Deadline = deadline
	return e.enqueue(ctx, intent)
}

// Cancel enqueues an externally requested cancellation for orderID.
func (e *Engine) Cancel(ctx context.Context, orderID string) Result {
	intent := newIntent(KindCancel)
	intent.OrderID = orderID
	return e.enqueue(ctx, intent)
}

// Expire enqueues a TIF expiration for orderID. It behaves exactly like
// Cancel except for the terminal status and outbox event it produces;
// the ExpiryScheduler is the only caller.
func (e *Engine) Expire(ctx context.Context, orderID string) Result {
	intent := newIntent(KindExpire)
	intent.OrderID = orderID
	return e.enqueue(ctx, intent)
}

// Snapshot enqueues a read of the current top-of-book, depth levels deep.
func (e *Engine) Snapshot(ctx context.Context, depth int) Result {
	intent := newIntent(KindSnapshot)
	intent.Depth = depth
	return e.enqueue(ctx, intent)
}

// Run drains intents one at a time until ctx is cancelled, a Shutdown
// intent is processed, or a fatal invariant violation stops the loop. Other
// symbols' engines are unaffected either way.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-e.intents:
			metrics.QueueDepth.WithLabelValues(e.symbol).Set(float64(len(e.intents)))
			if intent.expired(time.Now()) {
				intent.reply <- Result{RejectionReason: domain.RejectionTimeout, Err: domain.ErrTimeout}
				continue
			}
			switch intent.Kind {
			case KindSubmit:
				intent.reply <- e.handleSubmit(intent.Submit)
			case KindCancel:
				intent.reply <- e.handleCancel(intent.OrderID, domain.OrderStatusCancelled)
			case KindExpire:
				intent.reply <- e.handleCancel(intent.OrderID, domain.OrderStatusExpired)
			case KindSnapshot:
				intent.reply <- Result{SnapshotResult: e.book.Snapshot(intent.Depth)}
			case KindShutdown:
				intent.reply <- Result{}
				return
			}
			if e.stopped.Load() {
				return
			}
		}
	}
}

// pendingFill is one maker/taker crossing computed during simulation,
// before anything has touched the database or the book.
type pendingFill struct {
	makerOrderID string
	makerTrader  string
	quantity     int64
	priceInCents int64
}

// invariantError marks a failure that means the book and the store have
// already diverged from what the matching algorithm assumes, rather than an
// ordinary rejection or a transient database error. handleSubmit stops the
// engine for this symbol rather than retrying or continuing.
type invariantError struct {
	err error
}

func (e *invariantError) Error() string { return e.err.Error() }
func (e *invariantError) Unwrap() error { return e.err }

// validateSubmit runs the synchronous checks that never touch the database.
func validateSubmit(req SubmitRequest) (domain.RejectionReason, error) {
	if req.Quantity <= 0 {
		return domain.RejectionInvalidQuantity, &domain.ValidationError{Message: "quantity must be positive"}
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		if req.LimitPriceInCents == nil || *req.LimitPriceInCents <= 0 {
			return domain.RejectionInvalidPrice, &domain.ValidationError{Message: "limit price must be a positive integer cents"}
		}
	case domain.OrderTypeMarket:
		if req.LimitPriceInCents != nil {
			return domain.RejectionInvalidPrice, &domain.ValidationError{Message: "market orders must not carry a limit price"}
		}
	case domain.OrderTypeIOC:
		if req.LimitPriceInCents != nil && *req.LimitPriceInCents <= 0 {
			return domain.RejectionInvalidPrice, &domain.ValidationError{Message: "limit price must be a positive integer cents"}
		}
	default:
		return domain.RejectionInvalidQuantity, &domain.ValidationError{Message: "unknown order type"}
	}
	if req.TIFSeconds != nil && *req.TIFSeconds < 1 {
		return domain.RejectionInvalidQuantity, &domain.ValidationError{Message: "tif_seconds must be at least 1"}
	}
	return "", nil
}

// hasPriceLimit reports whether crossing must respect req's limit price:
// true for LIMIT always, and for IOC only when a price was supplied.
func hasPriceLimit(req SubmitRequest) bool {
	return req.Type == domain.OrderTypeLimit || (req.Type == domain.OrderTypeIOC && req.LimitPriceInCents != nil)
}

// handleSubmit validates, then runs the reserve-insert-match-settle
// transaction with retry on transient errors, and finally applies the
// resulting book mutations only once the transaction has committed.
func (e *Engine) handleSubmit(req SubmitRequest) Result {
	if reason, verr := validateSubmit(req); verr != nil {
		metrics.Rejections.WithLabelValues(e.symbol, string(reason)).Inc()
		return Result{Status: domain.OrderStatusRejected, RejectionReason: reason, Err: verr}
	}

	start := time.Now()
	var (
		result   Result
		bookOp   func()
		rejected domain.RejectionReason
	)
	err := withRetry(e.retry, func() error {
		return e.db.Transaction(func(tx *gorm.DB) error {
			r, op, reason, terr := e.processSubmit(tx, req)
			if terr != nil {
				rejected = reason
				return terr
			}
			result = r
			bookOp = op
			return nil
		})
	})
	metrics.FillLatency.WithLabelValues(e.symbol).Observe(time.Since(start).Seconds())

	if err != nil {
		var iv *invariantError
		if errors.As(err, &iv) {
			e.stopped.Store(true)
			e.logger.Error("invariant violation, engine stopping", zap.Error(err))
			metrics.InvariantViolations.WithLabelValues(e.symbol).Inc()
			return Result{Status: domain.OrderStatusRejected, RejectionReason: domain.RejectionInternal, Err: err}
		}
		if rejected != "" {
			metrics.Rejections.WithLabelValues(e.symbol, string(rejected)).Inc()
			return Result{Status: domain.OrderStatusRejected, RejectionReason: rejected, Err: err}
		}
		e.logger.Error("submit transaction failed", zap.Error(err))
		metrics.Rejections.WithLabelValues(e.symbol, string(domain.RejectionInternal)).Inc()
		return Result{Status: domain.OrderStatusRejected, RejectionReason: domain.RejectionInternal, Err: err}
	}

	// Commit succeeded: only now does the in-memory book change, per the
	// rule that persistent state and book state must never diverge.
	if bookOp != nil {
		bookOp()
	}
	return result
}

// processSubmit runs entirely inside tx. It never mutates e.book directly;
// instead it returns a closure the caller applies once commit succeeds.
func (e *Engine) processSubmit(tx *gorm.DB, req SubmitRequest) (Result, func(), domain.RejectionReason, error) {
	trader, err := e.ledger.LookupTraderInTx(tx, req.TraderID)
	if err != nil {
		return Result{}, nil, domain.RejectionInactiveTrader, err
	}
	if !trader.Active {
		return Result{}, nil, domain.RejectionInactiveTrader, domain.ErrInactiveTrader
	}

	// MARKET orders never rest; reject up front if the opposite side of the
	// book has no liquidity at all, mirroring the original matcher's
	// pre-reservation no-liquidity check for both sides.
	if req.Type == domain.OrderTypeMarket {
		var ok bool
		if req.Side == domain.OrderSideBuy {
			_, ok = e.book.BestAsk()
		} else {
			_, ok = e.book.BestBid()
		}
		if !ok {
			return Result{}, nil, domain.RejectionNoLiquidity, domain.ErrNoLiquidity
		}
	}

	reservedCash, err := e.reserve(tx, req)
	if err != nil {
		return Result{}, nil, rejectionForReserveError(err), err
	}

	order := &domain.Order{
		TraderID:          req.TraderID,
		Symbol:            e.symbol,
		Side:              req.Side,
		Type:              req.Type,
		LimitPriceInCents: req.LimitPriceInCents,
		Quantity:          req.Quantity,
		FilledQuantity:    0,
		Status:            domain.OrderStatusPending,
		CreatedAt:         time.Now().UTC(),
	}
	if req.Type == domain.OrderTypeLimit {
		order.TIFSeconds = req.TIFSeconds
	}
	order.OrderID = uuid.NewString()

	seq, err := e.sequencer.NextInTx(tx, e.symbol)
	if err != nil {
		return Result{}, nil, "", fmt.Errorf("allocate sequence: %w", err)
	}
	order.SequenceNumber = &seq

	if err := e.orders.InsertInTx(tx, order); err != nil {
		return Result{}, nil, "", fmt.Errorf("insert order: %w", err)
	}
	if err := e.appendOrderAccepted(tx, order); err != nil {
		return Result{}, nil, "", err
	}

	plan := e.simulate(req)

	var fills []Fill
	var costOfFills int64
	for _, pf := range plan {
		makerOrder, err := e.orders.GetForUpdateInTx(tx, pf.makerOrderID)
		if err != nil {
			return Result{}, nil, "", &invariantError{err: fmt.Errorf("maker order %s missing from store: %w", pf.makerOrderID, err)}
		}
		makerOrder.FilledQuantity += pf.quantity
		if makerOrder.RemainingQuantity() == 0 {
			makerOrder.Status = domain.OrderStatusFilled
		} else {
			makerOrder.Status = domain.OrderStatusPartiallyFilled
		}

		trade := buildTrade(req, order.OrderID, pf)
		if err := e.settler.Apply(tx, settlement.FillPlan{
			Trade:        trade,
			MakerOrder:   makerOrder,
			TakerOrderID: order.OrderID,
		}); err != nil {
			return Result{}, nil, "", err
		}

		if req.Side == domain.OrderSideBuy && hasPriceLimit(req) {
			overReserved := pf.quantity * (*req.LimitPriceInCents - pf.priceInCents)
			if overReserved > 0 {
				if err := e.ledger.ReleaseCashInTx(tx, req.TraderID, overReserved); err != nil {
					return Result{}, nil, "", fmt.Errorf("release over-reserved cash: %w", err)
				}
			}
		}

		order.FilledQuantity += pf.quantity
		costOfFills += pf.quantity * pf.priceInCents
		fills = append(fills, Fill{MakerOrderID: pf.makerOrderID, Quantity: pf.quantity, PriceInCents: pf.priceInCents})
	}

	rests := order.Type == domain.OrderTypeLimit && order.RemainingQuantity() > 0

	switch {
	case order.RemainingQuantity() == 0:
		order.Status = domain.OrderStatusFilled
	case order.Type == domain.OrderTypeLimit:
		if order.FilledQuantity > 0 {
			order.Status = domain.OrderStatusPartiallyFilled
		} else {
			order.Status = domain.OrderStatusOpen
		}
	default: // IOC or MARKET with leftover quantity never rests
		order.Status = domain.OrderStatusCancelled
	}

	if err := e.settleResidualReservation(tx, req, order, reservedCash, costOfFills, rests); err != nil {
		return Result{}, nil, "", err
	}

	if !rests && order.Type != domain.OrderTypeLimit && order.RemainingQuantity() > 0 {
		if err := e.outboxAppendCancelled(tx, order.OrderID, "NO_LIQUIDITY"); err != nil {
			return Result{}, nil, "", err
		}
	}

	if err := e.orders.UpdateStatusAndFilledInTx(tx, order); err != nil {
		return Result{}, nil, "", fmt.Errorf("finalize taker order: %w", err)
	}

	bookEntry := BookEntry{
		Price:          effectivePrice(req),
		SequenceNumber: seq,
		OrderID:        order.OrderID,
		TraderID:       order.TraderID,
		Remaining:      order.RemainingQuantity(),
	}

	if len(plan) > 0 {
		if err := e.appendBookChanged(tx, req, plan, bookEntry, rests); err != nil {
			return Result{}, nil, "", err
		}
	}

	applyBook := func() {
		for _, pf := range plan {
			e.book.UpdateRemaining(oppositeSide(req.Side), pf.makerOrderID, remainingAfter(e.book, pf.makerOrderID, pf.quantity))
		}
		if rests {
			e.book.Add(req.Side, bookEntry)
		}
		if len(plan) > 0 {
			e.book.SetLastTradePrice(plan[len(plan)-1].priceInCents)
		}
	}

	return Result{
		OrderID: order.OrderID,
		Status:  order.Status,
		Fills:   fills,
	}, applyBook, "", nil
}

// remainingAfter reads the book's current view of orderID's remaining
// quantity and subtracts qty, used to build the post-commit book mutation
// closure without re-deriving state the simulation already computed.
func remainingAfter(book *Book, orderID string, qty int64) int64 {
	entry, ok := book.index[orderID]
	if !ok {
		return 0
	}
	return entry.Remaining - qty
}

func oppositeSide(side domain.OrderSide) domain.OrderSide {
	if side == domain.OrderSideBuy {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func effectivePrice(req SubmitRequest) int64 {
	if req.LimitPriceInCents != nil {
		return *req.LimitPriceInCents
	}
	return 0
}

// simulate walks the book read-only and computes the fills a taker would
// receive, skipping makers owned by the same trader (self-trade
// prevention) without removing them from the book.
func (e *Engine) simulate(req SubmitRequest) []pendingFill {
	var plan []pendingFill
	consumed := make(map[string]int64) // maker order id -> qty already used in this simulation
	skip := make(map[string]bool)
	remaining := req.Quantity
	priced := hasPriceLimit(req)

	for remaining > 0 {
		best, ok := e.peekBestOpposite(req.Side, skip, consumed)
		if !ok {
			break
		}
		if best.TraderID == req.TraderID {
			skip[best.OrderID] = true
			continue
		}
		if priced {
			limit := *req.LimitPriceInCents
			if req.Side == domain.OrderSideBuy && best.Price > limit {
				break
			}
			if req.Side == domain.OrderSideSell && best.Price < limit {
				break
			}
		}
		crossQty := remaining
		if best.Remaining < crossQty {
			crossQty = best.Remaining
		}
		plan = append(plan, pendingFill{
			makerOrderID: best.OrderID,
			makerTrader:  best.TraderID,
			quantity:     crossQty,
			priceInCents: best.Price,
		})
		consumed[best.OrderID] += crossQty
		remaining -= crossQty
	}
	return plan
}

// peekBestOpposite finds the highest-priority resting entry on the side
// opposite req.Side that is neither skipped nor already fully consumed by
// earlier fills in this same simulation.
func (e *Engine) peekBestOpposite(side domain.OrderSide, skip map[string]bool, consumed map[string]int64) (BookEntry, bool) {
	var best BookEntry
	found := false
	walk := e.book.WalkAsks
	if side == domain.OrderSideSell {
		walk = e.book.WalkBids
	}
	walk(func(entry BookEntry) bool {
		if skip[entry.OrderID] {
			return true
		}
		remaining := entry.Remaining - consumed[entry.OrderID]
		if remaining <= 0 {
			return true
		}
		entry.Remaining = remaining
		best = entry
		found = true
		return false
	})
	return best, found
}

func buildTrade(req SubmitRequest, takerOrderID string, pf pendingFill) *domain.Trade {
	t := &domain.Trade{
		TradeID:      uuid.NewString(),
		Symbol:       req.Symbol,
		PriceInCents: pf.priceInCents,
		Quantity:     pf.quantity,
		MakerOrderID: pf.makerOrderID,
		TakerOrderID: takerOrderID,
		ExecutedAt:   time.Now().UTC(),
	}
	if req.Side == domain.OrderSideBuy {
		t.BuyOrderID, t.SellOrderID = takerOrderID, pf.makerOrderID
		t.BuyerID, t.SellerID = req.TraderID, pf.makerTrader
	} else {
		t.BuyOrderID, t.SellOrderID = pf.makerOrderID, takerOrderID
		t.BuyerID, t.SellerID = pf.makerTrader, req.TraderID
	}
	return t
}

// reserve earmarks cash or shares for req before the order is inserted,
// returning the amount reserved so the caller can release any excess once
// matching concludes. SELL reservations are reported as share counts, not
// cents, in the same return value for the caller's residual-release math.
func (e *Engine) reserve(tx *gorm.DB, req SubmitRequest) (int64, error) {
	if req.Side == domain.OrderSideSell {
		if err := e.ledger.ReserveSharesInTx(tx, req.TraderID, req.Symbol, req.Quantity); err != nil {
			return 0, err
		}
		return req.Quantity, nil
	}

	switch {
	case req.Type == domain.OrderTypeMarket || req.LimitPriceInCents == nil:
		// MARKET, and IOC submitted without a price, both cross at whatever
		// the book offers; neither has a limit to size the reservation off
		// of, so both borrow the same best-ask-plus-cushion estimate.
		best, ok := e.book.BestAsk()
		if !ok {
			return 0, domain.ErrNoLiquidity
		}
		estimate := domain.CeilDiv100(req.Quantity * best.Price * e.slippageCushionNum)
		trader, err := e.ledger.LookupTraderInTx(tx, req.TraderID)
		if err != nil {
			return 0, err
		}
		reserveAmount := estimate
		if available := trader.AvailableCashInCents(); available < reserveAmount {
			reserveAmount = available
		}
		if err := e.ledger.ReserveCashInTx(tx, req.TraderID, reserveAmount); err != nil {
			return 0, err
		}
		return reserveAmount, nil
	default: // LIMIT, IOC with a price
		cost := req.Quantity * (*req.LimitPriceInCents)
		if err := e.ledger.ReserveCashInTx(tx, req.TraderID, cost); err != nil {
			return 0, err
		}
		return cost, nil
	}
}

// settleResidualReservation releases whatever part of the original
// reservation is no longer needed once matching has concluded: the entire
// unused amount for non-resting orders, or just the over-reservation from
// filled quantity for an order that rests.
func (e *Engine) settleResidualReservation(tx *gorm.DB, req SubmitRequest, order *domain.Order, reserved, costOfFills int64, rests bool) error {
	if req.Side == domain.OrderSideSell {
		if rests {
			return nil // settlement already trimmed reserved_shares per fill; remainder matches what rests
		}
		remaining := order.RemainingQuantity()
		if remaining == 0 {
			return nil
		}
		return e.ledger.ReleaseSharesInTx(tx, req.TraderID, req.Symbol, remaining)
	}

	// BUY: settlement already decremented reserved_cash by costOfFills as
	// each trade settled, and for a priced order the per-fill loop in
	// processSubmit already released each fill's price improvement
	// (FilledQuantity*limit - costOfFills). What is left reserved from this
	// order's original earmark is reserved minus both; keep only what a
	// resting limit still needs for its unfilled quantity.
	var alreadyReleased int64
	if hasPriceLimit(req) {
		alreadyReleased = order.FilledQuantity*(*req.LimitPriceInCents) - costOfFills
	}
	var keep int64
	if rests {
		keep = order.RemainingQuantity() * (*order.LimitPriceInCents)
	}
	release := reserved - costOfFills - alreadyReleased - keep
	if release <= 0 {
		return nil
	}
	return e.ledger.ReleaseCashInTx(tx, req.TraderID, release)
}

func rejectionForReserveError(err error) domain.RejectionReason {
	switch {
	case err == domain.ErrInsufficientCash:
		return domain.RejectionInsufficientCash
	case err == domain.ErrInsufficientShares:
		return domain.RejectionInsufficientShares
	case err == domain.ErrNoLiquidity:
		return domain.RejectionNoLiquidity
	case err == domain.ErrTraderNotFound:
		return domain.RejectionInactiveTrader
	default:
		return ""
	}
}

func (e *Engine) appendOrderAccepted(tx *gorm.DB, order *domain.Order) error {
	return e.appendOutbox(tx, outbox.Event{
		Type:   outbox.EventOrderAccepted,
		Symbol: order.Symbol,
		Payload: outbox.OrderAcceptedPayload{
			OrderID:           order.OrderID,
			Symbol:            order.Symbol,
			Side:              string(order.Side),
			Type:              string(order.Type),
			Quantity:          order.Quantity,
			LimitPriceInCents: order.LimitPriceInCents,
			CreatedAt:         order.CreatedAt,
		},
	})
}

// appendBookChanged queues a BOOK_CHANGED event describing the top-of-book
// state the commit is about to produce, derived without mutating e.book
// early: the opposite side's best is re-derived from the same
// consumed-quantity accounting simulate used, and the taker's own side only
// changes if it rests.
func (e *Engine) appendBookChanged(tx *gorm.DB, req SubmitRequest, plan []pendingFill, bookEntry BookEntry, rests bool) error {
	consumed := make(map[string]int64)
	for _, pf := range plan {
		consumed[pf.makerOrderID] += pf.quantity
	}
	oppositeBest, oppositeOK := e.peekBestOpposite(req.Side, nil, consumed)

	var ownBest BookEntry
	var ownOK bool
	ownLess := bidLess
	if req.Side == domain.OrderSideBuy {
		ownBest, ownOK = e.book.BestBid()
	} else {
		ownBest, ownOK = e.book.BestAsk()
		ownLess = askLess
	}
	if rests && (!ownOK || ownLess(bookEntry, ownBest)) {
		ownBest, ownOK = bookEntry, true
	}

	payload := outbox.BookChangedPayload{Symbol: req.Symbol}
	bidEntry, bidOK, askEntry, askOK := ownBest, ownOK, oppositeBest, oppositeOK
	if req.Side == domain.OrderSideSell {
		bidEntry, bidOK, askEntry, askOK = oppositeBest, oppositeOK, ownBest, ownOK
	}
	if bidOK {
		p, sz := bidEntry.Price, bidEntry.Remaining
		payload.BestBidInCents, payload.BidSize = &p, &sz
	}
	if askOK {
		p, sz := askEntry.Price, askEntry.Remaining
		payload.BestAskInCents, payload.AskSize = &p, &sz
	}
	if n := len(plan); n > 0 {
		lp := plan[n-1].priceInCents
		payload.LastPriceInCents = &lp
	} else if lp := e.book.LastTradePrice(); lp != nil {
		payload.LastPriceInCents = lp
	}

	return e.appendOutbox(tx, outbox.Event{Type: outbox.EventBookChanged, Symbol: req.Symbol, Payload: payload})
}

func (e *Engine) outboxAppendCancelled(tx *gorm.DB, orderID, reason string) error {
	return e.appendOutbox(tx, outbox.Event{
		Type:    outbox.EventOrderCancelled,
		Symbol:  e.symbol,
		Payload: outbox.OrderCancelledPayload{OrderID: orderID, Reason: reason},
	})
}

func (e *Engine) appendOutbox(tx *gorm.DB, ev outbox.Event) error {
	return e.outbox.AppendInTx(tx, ev)
}

// handleCancel retires a resting order into a terminal state (CANCELLED for
// an externally requested Cancel, EXPIRED for a scheduler-driven Expire):
// validates it is not already terminal, writes the new status and its
// timestamp, releases whatever of the reservation the remaining quantity
// still holds, appends the matching outbox event, then removes it from the
// in-memory book once the transaction commits.
func (e *Engine) handleCancel(orderID string, terminal domain.OrderStatus) Result {
	var outcome CancelOutcome
	var order *domain.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		o, err := e.orders.GetForUpdateInTx(tx, orderID)
		if err != nil {
			outcome = CancelOutcomeUnknown
			return nil
		}
		if o.Status.IsTerminal() {
			outcome = CancelOutcomeAlreadyTerminal
			return nil
		}
		now := time.Now().UTC()
		o.Status = terminal
		if terminal == domain.OrderStatusExpired {
			o.ExpiredAt = &now
		} else {
			o.CancelledAt = &now
		}
		if err := e.orders.UpdateStatusAndFilledInTx(tx, o); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		remaining := o.RemainingQuantity()
		if o.Side == domain.OrderSideBuy {
			if o.LimitPriceInCents != nil {
				if err := e.ledger.ReleaseCashInTx(tx, o.TraderID, remaining*(*o.LimitPriceInCents)); err != nil {
					return err
				}
			}
		} else {
			if err := e.ledger.ReleaseSharesInTx(tx, o.TraderID, o.Symbol, remaining); err != nil {
				return err
			}
		}
		if terminal == domain.OrderStatusExpired {
			if err := e.appendOutbox(tx, outbox.Event{
				Type:    outbox.EventOrderExpired,
				Symbol:  e.symbol,
				Payload: outbox.OrderExpiredPayload{OrderID: o.OrderID},
			}); err != nil {
				return err
			}
		} else {
			if err := e.outboxAppendCancelled(tx, o.OrderID, "REQUESTED"); err != nil {
				return err
			}
		}
		order = o
		outcome = CancelOutcomeCancelled
		return nil
	})
	if err != nil {
		e.logger.Error("cancel transaction failed", zap.String("order_id", orderID), zap.Error(err))
		return Result{Err: err, CancelOutcome: CancelOutcomeUnknown}
	}
	if outcome == CancelOutcomeCancelled && order != nil {
		e.book.Cancel(order.OrderID)
	}
	return Result{CancelOutcome: outcome}
}
