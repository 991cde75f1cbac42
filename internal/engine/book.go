package engine

import (
	"github.com/google/btree"

	"github.com/mercadex/matchcore/internal/domain"
)

// BookEntry is the minimal tuple the Book needs for matching and recovery:
// remaining quantity, order id, trader id, and sequence number. It
// deliberately does not carry the full domain.Order, per the
// no-eager-loading resolution: the Book never needs more than this to
// decide priority and cross price.
type BookEntry struct {
	Price          int64
	SequenceNumber int64
	OrderID        string
	TraderID       string
	Remaining      int64
}

// PriceLevel is an aggregated view of one price on one side of the book.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess orders the bid side: price descending, then sequence_number
// ascending. Min() yields the best bid. created_at is never consulted;
// sequence numbers remove any ambiguity from clock skew.
func bidLess(a, b BookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if a.SequenceNumber != b.SequenceNumber {
		return a.SequenceNumber < b.SequenceNumber
	}
	return a.OrderID < b.OrderID
}

// askLess orders the ask side: price ascending, then sequence_number
// ascending. Min() yields the best ask.
func askLess(a, b BookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.SequenceNumber != b.SequenceNumber {
		return a.SequenceNumber < b.SequenceNumber
	}
	return a.OrderID < b.OrderID
}

// Book is the in-memory price-time-sequence order book for one symbol. It
// is exclusively owned by that symbol's Engine goroutine; nothing else may
// mutate it, so no internal locking is needed.
type Book struct {
	symbol         string
	bids           *btree.BTreeG[BookEntry]
	asks           *btree.BTreeG[BookEntry]
	index          map[string]BookEntry // order_id -> entry, either side
	lastTradePrice *int64
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	const degree = 32
	return &Book{
		symbol: symbol,
		bids:   btree.NewG[BookEntry](degree, bidLess),
		asks:   btree.NewG[BookEntry](degree, askLess),
		index:  make(map[string]BookEntry),
	}
}

// Symbol returns the symbol this book matches.
func (b *Book) Symbol() string { return b.symbol }

// Add inserts entry on the given side; within its price level it is placed
// by ascending sequence number.
func (b *Book) Add(side domain.OrderSide, entry BookEntry) {
	if entry.Remaining <= 0 {
		return
	}
	if side == domain.OrderSideBuy {
		b.bids.ReplaceOrInsert(entry)
	} else {
		b.asks.ReplaceOrInsert(entry)
	}
	b.index[entry.OrderID] = entry
}

// Cancel removes an order from whichever side it rests on. No-op if absent.
func (b *Book) Cancel(orderID string) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	b.bids.Delete(entry)
	b.asks.Delete(entry)
}

// UpdateRemaining overwrites the resting quantity for orderID on side,
// removing it entirely if the new remaining is zero, per the book's
// invariant that every resting order has remaining > 0.
func (b *Book) UpdateRemaining(side domain.OrderSide, orderID string, remaining int64) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	if side == domain.OrderSideBuy {
		b.bids.Delete(entry)
	} else {
		b.asks.Delete(entry)
	}
	if remaining <= 0 {
		return
	}
	entry.Remaining = remaining
	b.Add(side, entry)
}

// BestBid returns the highest-priority resting bid.
func (b *Book) BestBid() (BookEntry, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority resting ask.
func (b *Book) BestAsk() (BookEntry, bool) {
	return b.asks.Min()
}

// TopBids returns up to n aggregated price levels, best first.
func (b *Book) TopBids(n int) []PriceLevel {
	return topLevels(b.bids, n)
}

// TopAsks returns up to n aggregated price levels, best first.
func (b *Book) TopAsks(n int) []PriceLevel {
	return topLevels(b.asks, n)
}

func topLevels(tree *btree.BTreeG[BookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry BookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Remaining
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{Price: entry.Price, TotalQuantity: entry.Remaining, OrderCount: 1})
		return true
	})
	return levels
}

// WalkAsks iterates asks lowest price first; fn returns false to stop.
func (b *Book) WalkAsks(fn func(BookEntry) bool) {
	b.asks.Ascend(fn)
}

// WalkBids iterates bids highest price first; fn returns false to stop.
func (b *Book) WalkBids(fn func(BookEntry) bool) {
	b.bids.Ascend(fn)
}

// SetLastTradePrice records the price of the most recently committed fill.
// Called by the Engine once per submit that produced fills, with the last
// fill's price, after that submit's transaction commits.
func (b *Book) SetLastTradePrice(priceInCents int64) {
	b.lastTradePrice = &priceInCents
}

// LastTradePrice returns the price of the most recent trade on this book, or
// nil if the symbol has never traded.
func (b *Book) LastTradePrice() *int64 { return b.lastTradePrice }

// BidCount returns the number of resting bid orders.
func (b *Book) BidCount() int { return b.bids.Len() }

// AskCount returns the number of resting ask orders.
func (b *Book) AskCount() int { return b.asks.Len() }

// Snapshot is a pure read of the current book state.
type Snapshot struct {
	Bids           []PriceLevel
	Asks           []PriceLevel
	BestBid        *int64
	BestAsk        *int64
	LastTradePrice *int64
}

// Snapshot returns the current top-of-book view, depth levels per side.
func (b *Book) Snapshot(depth int) Snapshot {
	s := Snapshot{Bids: b.TopBids(depth), Asks: b.TopAsks(depth), LastTradePrice: b.lastTradePrice}
	if e, ok := b.BestBid(); ok {
		p := e.Price
		s.BestBid = &p
	}
	if e, ok := b.BestAsk(); ok {
		p := e.Price
		s.BestAsk = &p
	}
	return s
}
