package counters

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeguard/tradeguard/internal/observ"
)

// DailyCounters is the single logical owner of per-day risk accounting.
// All read-modify-write goes through the mutex; callers never see interior
// maps. Counters older than 24h are reset on first access.
type DailyCounters struct {
	mu              sync.Mutex
	tradesExecuted  int
	perSymbolTrades map[string]int
	totalLossUSD    decimal.Decimal
	lastReset       time.Time
	now             func() time.Time
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	TradesExecuted  int
	PerSymbolTrades map[string]int
	TotalLossUSD    decimal.Decimal
	LastReset       time.Time
}

func New() *DailyCounters {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *DailyCounters {
	return &DailyCounters{
		perSymbolTrades: make(map[string]int),
		totalLossUSD:    decimal.Zero,
		lastReset:       now(),
		now:             now,
	}
}

// ResetIfStale resets all counters when more than 24h have passed since the
// last reset. Returns true when a reset happened.
func (c *DailyCounters) ResetIfStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetIfStaleLocked()
}

func (c *DailyCounters) resetIfStaleLocked() bool {
	if c.now().Sub(c.lastReset) <= 24*time.Hour {
		return false
	}
	c.tradesExecuted = 0
	c.perSymbolTrades = make(map[string]int)
	c.totalLossUSD = decimal.Zero
	c.lastReset = c.now()
	observ.IncCounter("daily_counters_resets_total", nil)
	return true
}

// RecordTrade accrues one executed trade and its realized loss estimate.
// Only called for outcomes where risk was actually taken.
func (c *DailyCounters) RecordTrade(symbol string, lossUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tradesExecuted++
	c.perSymbolTrades[symbol]++
	c.totalLossUSD = c.totalLossUSD.Add(lossUSD)

	observ.SetGauge("daily_trades_executed", float64(c.tradesExecuted), nil)
	lossF, _ := c.totalLossUSD.Float64()
	observ.SetGauge("daily_loss_usd", lossF, nil)
}

// Get returns a consistent snapshot, resetting first when stale.
func (c *DailyCounters) Get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked()

	per := make(map[string]int, len(c.perSymbolTrades))
	for k, v := range c.perSymbolTrades {
		per[k] = v
	}
	return Snapshot{
		TradesExecuted:  c.tradesExecuted,
		PerSymbolTrades: per,
		TotalLossUSD:    c.totalLossUSD,
		LastReset:       c.lastReset,
	}
}

// Limits are the daily risk limits the guardrail enforces.
type Limits struct {
	DailyMaxTrades     int
	PerSymbolMaxTrades int
	DailyMaxLossUSD    decimal.Decimal
}

// LimitCheck is the outcome of one atomic check-and-reserve pass.
type LimitCheck struct {
	DailyOK  bool
	SymbolOK bool
	LossOK   bool
	Reserved bool
	Snapshot Snapshot
}

// AllOK reports whether every limit check passed.
func (l LimitCheck) AllOK() bool { return l.DailyOK && l.SymbolOK && l.LossOK }

// CheckAndReserve evaluates the three counter limits and, only when all
// pass, counts the prospective trade in the same critical section. This is
// the single-writer read-check-update the guardrail relies on: two
// concurrent submits cannot both pass a limit check before either counts.
func (c *DailyCounters) CheckAndReserve(symbol string, estLossUSD decimal.Decimal, lim Limits) LimitCheck {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked()

	check := LimitCheck{
		DailyOK:  c.tradesExecuted < lim.DailyMaxTrades,
		SymbolOK: c.perSymbolTrades[symbol] < lim.PerSymbolMaxTrades,
		LossOK:   c.totalLossUSD.Add(estLossUSD).LessThan(lim.DailyMaxLossUSD),
	}

	per := make(map[string]int, len(c.perSymbolTrades))
	for k, v := range c.perSymbolTrades {
		per[k] = v
	}
	check.Snapshot = Snapshot{
		TradesExecuted:  c.tradesExecuted,
		PerSymbolTrades: per,
		TotalLossUSD:    c.totalLossUSD,
		LastReset:       c.lastReset,
	}

	if check.AllOK() {
		c.tradesExecuted++
		c.perSymbolTrades[symbol]++
		c.totalLossUSD = c.totalLossUSD.Add(estLossUSD)
		check.Reserved = true
	}
	return check
}

// Release backs out a reservation whose execution ended without risk taken.
func (c *DailyCounters) Release(symbol string, estLossUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradesExecuted--
	c.perSymbolTrades[symbol]--
	c.totalLossUSD = c.totalLossUSD.Sub(estLossUSD)
}

// Settle replaces the reserved loss estimate with the realized one from the
// actual fill.
func (c *DailyCounters) Settle(symbol string, estLossUSD, realizedLossUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalLossUSD = c.totalLossUSD.Sub(estLossUSD).Add(realizedLossUSD)

	lossF, _ := c.totalLossUSD.Float64()
	observ.SetGauge("daily_loss_usd", lossF, nil)
	observ.SetGauge("daily_trades_executed", float64(c.tradesExecuted), nil)
}
