package store

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/domain"
)

func TestRecordInTx_InsertsAnImmutableTradeRow(t *testing.T) {
	db := openTestDB(t)
	s := NewTradeStore()
	trade := &domain.Trade{
		TradeID: "trade-1", Symbol: "@X", PriceInCents: 500, Quantity: 10,
		BuyOrderID: "buy-1", SellOrderID: "sell-1", BuyerID: "buyer", SellerID: "seller",
		MakerOrderID: "sell-1", TakerOrderID: "buy-1", ExecutedAt: time.Now().UTC(),
	}
	if err := db.Transaction(func(tx *gorm.DB) error { return s.RecordInTx(tx, trade) }); err != nil {
		t.Fatalf("record: %v", err)
	}

	var n int64
	if err := db.Model(&TradeRow{}).Where("trade_id = ?", "trade-1").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one trade row, got %d", n)
	}
}

func TestLoadByOrderInTx_MatchesEitherBuyOrSellSideMostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	s := NewTradeStore()
	base := time.Now().UTC()
	trades := []*domain.Trade{
		{TradeID: "t1", Symbol: "@X", PriceInCents: 500, Quantity: 5, BuyOrderID: "o1", SellOrderID: "s1",
			BuyerID: "b", SellerID: "s", MakerOrderID: "s1", TakerOrderID: "o1", ExecutedAt: base},
		{TradeID: "t2", Symbol: "@X", PriceInCents: 505, Quantity: 5, BuyOrderID: "o2", SellOrderID: "o1",
			BuyerID: "b2", SellerID: "b", MakerOrderID: "o1", TakerOrderID: "o2", ExecutedAt: base.Add(time.Second)},
		{TradeID: "t3", Symbol: "@X", PriceInCents: 510, Quantity: 5, BuyOrderID: "o3", SellOrderID: "s2",
			BuyerID: "b3", SellerID: "s2", MakerOrderID: "s2", TakerOrderID: "o3", ExecutedAt: base.Add(2 * time.Second)},
	}
	for _, tr := range trades {
		if err := db.Transaction(func(tx *gorm.DB) error { return s.RecordInTx(tx, tr) }); err != nil {
			t.Fatalf("record %s: %v", tr.TradeID, err)
		}
	}

	var got []*domain.Trade
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = s.LoadByOrderInTx(tx, "o1")
		return err
	})
	if err != nil {
		t.Fatalf("load by order: %v", err)
	}
	if len(got) != 2 || got[0].TradeID != "t2" || got[1].TradeID != "t1" {
		t.Fatalf("expected [t2 t1] most-recent-first for o1 as both buy and sell side, got %v", got)
	}
}
