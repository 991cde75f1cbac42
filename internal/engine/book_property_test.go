package engine

import (
	"fmt"
	"testing"

	"github.com/mercadex/matchcore/internal/domain"
	"pgregory.net/rapid"
)

func genBookEntry(id int) *rapid.Generator[BookEntry] {
	return rapid.Custom(func(t *rapid.T) BookEntry {
		price := rapid.Int64Range(1, 10000).Draw(t, "price")
		seq := rapid.Int64Range(0, 20).Draw(t, "sequence")
		orderID := fmt.Sprintf("order-%d", id)

		return BookEntry{
			Price:          price,
			SequenceNumber: seq,
			OrderID:        orderID,
			Remaining:      1,
		}
	})
}

func TestProperty_BidSideSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numEntries")
		book := NewBook("TEST")

		for i := 0; i < n; i++ {
			entry := genBookEntry(i).Draw(t, fmt.Sprintf("bid-%d", i))
			book.Add(domain.OrderSideBuy, entry)
		}

		var prev *BookEntry
		book.WalkBids(func(entry BookEntry) bool {
			if prev != nil {
				if entry.Price > prev.Price {
					t.Fatalf("bid side: price should be descending, got %d after %d", entry.Price, prev.Price)
				}
				if entry.Price == prev.Price {
					if entry.SequenceNumber < prev.SequenceNumber {
						t.Fatalf("bid side: same price %d, sequence should be ascending, got %d after %d",
							entry.Price, entry.SequenceNumber, prev.SequenceNumber)
					}
					if entry.SequenceNumber == prev.SequenceNumber && entry.OrderID < prev.OrderID {
						t.Fatalf("bid side: same price %d and sequence, order_id should be ascending, got %q after %q",
							entry.Price, entry.OrderID, prev.OrderID)
					}
				}
			}
			cur := entry
			prev = &cur
			return true
		})
	})
}

func TestProperty_AskSideSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numEntries")
		book := NewBook("TEST")

		for i := 0; i < n; i++ {
			entry := genBookEntry(i).Draw(t, fmt.Sprintf("ask-%d", i))
			book.Add(domain.OrderSideSell, entry)
		}

		var prev *BookEntry
		book.WalkAsks(func(entry BookEntry) bool {
			if prev != nil {
				if entry.Price < prev.Price {
					t.Fatalf("ask side: price should be ascending, got %d after %d", entry.Price, prev.Price)
				}
				if entry.Price == prev.Price {
					if entry.SequenceNumber < prev.SequenceNumber {
						t.Fatalf("ask side: same price %d, sequence should be ascending, got %d after %d",
							entry.Price, entry.SequenceNumber, prev.SequenceNumber)
					}
					if entry.SequenceNumber == prev.SequenceNumber && entry.OrderID < prev.OrderID {
						t.Fatalf("ask side: same price %d and sequence, order_id should be ascending, got %q after %q",
							entry.Price, entry.OrderID, prev.OrderID)
					}
				}
			}
			cur := entry
			prev = &cur
			return true
		})
	})
}

func TestProperty_CancelRemovesFromBothSides(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewBook("TEST")
		n := rapid.IntRange(1, 20).Draw(t, "numEntries")
		var ids []string
		for i := 0; i < n; i++ {
			entry := genBookEntry(i).Draw(t, fmt.Sprintf("e-%d", i))
			if i%2 == 0 {
				book.Add(domain.OrderSideBuy, entry)
			} else {
				book.Add(domain.OrderSideSell, entry)
			}
			ids = append(ids, entry.OrderID)
		}
		for _, id := range ids {
			book.Cancel(id)
		}
		if book.BidCount() != 0 || book.AskCount() != 0 {
			t.Fatalf("expected empty book after cancelling all entries, got bids=%d asks=%d", book.BidCount(), book.AskCount())
		}
	})
}
