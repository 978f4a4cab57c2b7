package counters

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecordTradeAccrues(t *testing.T) {
	c := New()
	c.RecordTrade("EURUSD", decimal.NewFromFloat(12.5))
	c.RecordTrade("EURUSD", decimal.NewFromFloat(7.5))
	c.RecordTrade("GBPUSD", decimal.NewFromFloat(5))

	snap := c.Get()
	if snap.TradesExecuted != 3 {
		t.Fatalf("want 3 trades, got %d", snap.TradesExecuted)
	}
	if snap.PerSymbolTrades["EURUSD"] != 2 {
		t.Fatalf("want 2 EURUSD trades, got %d", snap.PerSymbolTrades["EURUSD"])
	}
	if !snap.TotalLossUSD.Equal(decimal.NewFromFloat(25)) {
		t.Fatalf("want 25 loss, got %s", snap.TotalLossUSD)
	}
}

func TestStalenessReset(t *testing.T) {
	clock := time.Now()
	c := newWithClock(func() time.Time { return clock })
	c.RecordTrade("EURUSD", decimal.NewFromFloat(10))

	// Within 24h: no reset.
	clock = clock.Add(23 * time.Hour)
	if c.ResetIfStale() {
		t.Fatal("counters reset before 24h staleness")
	}

	clock = clock.Add(2 * time.Hour)
	if !c.ResetIfStale() {
		t.Fatal("counters not reset after 24h staleness")
	}
	snap := c.Get()
	if snap.TradesExecuted != 0 || !snap.TotalLossUSD.IsZero() {
		t.Fatalf("counters not zeroed: %+v", snap)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New()
	c.RecordTrade("EURUSD", decimal.Zero)
	snap := c.Get()
	snap.PerSymbolTrades["EURUSD"] = 99
	if c.Get().PerSymbolTrades["EURUSD"] != 1 {
		t.Fatal("snapshot mutation leaked into counters")
	}
}

func TestCheckAndReserveIsAtomic(t *testing.T) {
	c := New()
	lim := Limits{
		DailyMaxTrades:     1,
		PerSymbolMaxTrades: 1,
		DailyMaxLossUSD:    decimal.NewFromInt(100),
	}
	est := decimal.NewFromFloat(5.5)

	first := c.CheckAndReserve("EURUSD", est, lim)
	if !first.AllOK() || !first.Reserved {
		t.Fatalf("first reserve should pass, got %+v", first)
	}
	second := c.CheckAndReserve("EURUSD", est, lim)
	if second.DailyOK || second.Reserved {
		t.Fatalf("second reserve must see the first reservation, got %+v", second)
	}

	c.Release("EURUSD", est)
	third := c.CheckAndReserve("EURUSD", est, lim)
	if !third.Reserved {
		t.Fatal("release must free the slot")
	}

	c.Settle("EURUSD", est, decimal.NewFromFloat(7.25))
	snap := c.Get()
	if !snap.TotalLossUSD.Equal(decimal.NewFromFloat(7.25)) {
		t.Fatalf("settle should replace the estimate, loss = %s", snap.TotalLossUSD)
	}
	if snap.TradesExecuted != 1 {
		t.Fatalf("trades = %d, want 1", snap.TradesExecuted)
	}
}
