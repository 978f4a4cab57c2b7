package guardrail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeguard/tradeguard/internal/audit"
	"github.com/tradeguard/tradeguard/internal/broker"
	"github.com/tradeguard/tradeguard/internal/config"
	"github.com/tradeguard/tradeguard/internal/counters"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/killswitch"
)

type fakeExecutor struct {
	result domain.ExecutionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, snap domain.FrozenSnapshot) (domain.ExecutionResult, error) {
	f.calls++
	res := f.result
	res.AdvisoryID = snap.AdvisoryID()
	res.Symbol = snap.Symbol()
	return res, f.err
}

type fakeAdapter struct {
	broker.Adapter
	connected bool
}

func (f *fakeAdapter) IsConnected(ctx context.Context) bool { return f.connected }

func testSnapshot(t *testing.T, advisoryID string) domain.FrozenSnapshot {
	t.Helper()
	snap, err := domain.NewFrozenSnapshot(
		advisoryID, "EURUSD", "long",
		decimal.NewFromFloat(1.1000),
		decimal.NewFromFloat(-0.005),
		decimal.NewFromFloat(0.010),
		decimal.NewFromInt(1000),
		time.Now().Add(time.Minute),
	)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func filledResult() domain.ExecutionResult {
	return domain.ExecutionResult{
		Status:          domain.ExecFilled,
		RealizedLossUSD: decimal.NewFromFloat(5.5),
	}
}

func newHarness(cfg config.Guardrails, exec *fakeExecutor) (*Controller, *audit.MemoryLog, *counters.DailyCounters, *killswitch.Switch) {
	log := audit.NewMemoryLog()
	ctr := counters.New()
	ks := killswitch.New()
	c := NewController(cfg, &fakeAdapter{connected: true}, ks, ctr, log, exec)
	return c, log, ctr, ks
}

func defaultCfg() config.Guardrails {
	return config.Guardrails{
		DailyMaxTrades:     10,
		DailyMaxLossUSD:    100,
		PerSymbolMaxTrades: 3,
	}
}

func TestAllChecksPassForwards(t *testing.T) {
	exec := &fakeExecutor{result: filledResult()}
	c, log, ctr, _ := newHarness(defaultCfg(), exec)

	res, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != domain.ExecFilled {
		t.Fatalf("status = %s, want FILLED", res.Status)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}

	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want exactly 1", len(entries))
	}
	if entries[0].FinalAction != domain.ActionForwarded {
		t.Fatalf("action = %s, want FORWARDED", entries[0].FinalAction)
	}
	if len(entries[0].GuardrailChecks) != 7 {
		t.Fatalf("checks recorded = %d, want 7", len(entries[0].GuardrailChecks))
	}

	snap := ctr.Get()
	if snap.TradesExecuted != 1 {
		t.Fatalf("trades = %d, want 1", snap.TradesExecuted)
	}
	if !snap.TotalLossUSD.Equal(decimal.NewFromFloat(5.5)) {
		t.Fatalf("loss = %s, want realized 5.5", snap.TotalLossUSD)
	}
}

func TestPaperModeLabelsAction(t *testing.T) {
	cfg := defaultCfg()
	cfg.PaperMode = true
	exec := &fakeExecutor{result: filledResult()}
	c, log, _, _ := newHarness(cfg, exec)

	if _, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := log.Entries()[0].FinalAction; got != domain.ActionPaperExecution {
		t.Fatalf("action = %s, want PAPER_EXECUTION", got)
	}
	if exec.calls != 1 {
		t.Fatal("paper mode still executes against the configured adapter")
	}
}

func TestGlobalKillSwitchAborts(t *testing.T) {
	exec := &fakeExecutor{result: filledResult()}
	c, log, ctr, ks := newHarness(defaultCfg(), exec)
	ks.ActivateGlobal("ops")

	res, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != domain.ExecRejected {
		t.Fatalf("status = %s, want REJECTED", res.Status)
	}
	if exec.calls != 0 {
		t.Fatal("engine must not be invoked on abort")
	}
	entry := log.Entries()[0]
	if entry.FinalAction != domain.ActionAborted {
		t.Fatalf("action = %s, want ABORTED", entry.FinalAction)
	}
	if len(entry.GuardrailChecks) != 7 {
		t.Fatalf("all 7 checks must be recorded even on abort, got %d", len(entry.GuardrailChecks))
	}
	if !strings.Contains(res.Reason, "global_kill_switch") {
		t.Fatalf("reason %q should cite the failing check", res.Reason)
	}
	if got := ctr.Get().TradesExecuted; got != 0 {
		t.Fatalf("aborted trade must not count, trades = %d", got)
	}
}

func TestDisconnectedBrokerAborts(t *testing.T) {
	exec := &fakeExecutor{result: filledResult()}
	log := audit.NewMemoryLog()
	c := NewController(defaultCfg(), &fakeAdapter{connected: false}, killswitch.New(), counters.New(), log, exec)

	res, _ := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if res.Status != domain.ExecRejected {
		t.Fatalf("status = %s, want REJECTED", res.Status)
	}
	if !strings.Contains(res.Reason, "broker_connectivity") {
		t.Fatalf("reason %q should cite connectivity", res.Reason)
	}
}

func TestDailyMaxTradesLimit(t *testing.T) {
	cfg := defaultCfg()
	cfg.DailyMaxTrades = 1
	exec := &fakeExecutor{result: filledResult()}
	c, log, _, _ := newHarness(cfg, exec)

	res1, _ := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if res1.Status != domain.ExecFilled {
		t.Fatalf("first trade status = %s, want FILLED", res1.Status)
	}

	res2, _ := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-2"))
	if res2.Status != domain.ExecRejected {
		t.Fatalf("second trade status = %s, want REJECTED", res2.Status)
	}
	if !strings.Contains(res2.Reason, "daily_max_trades") {
		t.Fatalf("reason %q should cite daily_max_trades", res2.Reason)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
	if len(log.Entries()) != 2 {
		t.Fatalf("audit entries = %d, want one per call", len(log.Entries()))
	}
}

func TestDailyMaxLossUsesEstimate(t *testing.T) {
	cfg := defaultCfg()
	cfg.DailyMaxLossUSD = 5 // snapshot estimate is |1.1000*0.005|*1000 = 5.5
	exec := &fakeExecutor{result: filledResult()}
	c, _, _, _ := newHarness(cfg, exec)

	res, _ := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if res.Status != domain.ExecRejected {
		t.Fatalf("status = %s, want REJECTED", res.Status)
	}
	if !strings.Contains(res.Reason, "daily_max_loss") {
		t.Fatalf("reason %q should cite daily_max_loss", res.Reason)
	}
	if exec.calls != 0 {
		t.Fatal("engine must not run when projected loss exceeds the cap")
	}
}

func TestNoRiskOutcomeReleasesCounters(t *testing.T) {
	exec := &fakeExecutor{result: domain.ExecutionResult{Status: domain.ExecFailedTimeout}}
	c, _, ctr, _ := newHarness(defaultCfg(), exec)

	if _, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := ctr.Get()
	if snap.TradesExecuted != 0 {
		t.Fatalf("timeout without fill must not count, trades = %d", snap.TradesExecuted)
	}
	if !snap.TotalLossUSD.IsZero() {
		t.Fatalf("loss = %s, want zero after release", snap.TotalLossUSD)
	}
}

func TestLateFillCountsAgainstLimits(t *testing.T) {
	exec := &fakeExecutor{result: domain.ExecutionResult{
		Status:          domain.ExecFullLate,
		RealizedLossUSD: decimal.NewFromFloat(7.2),
	}}
	c, _, ctr, _ := newHarness(defaultCfg(), exec)

	if _, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := ctr.Get()
	if snap.TradesExecuted != 1 {
		t.Fatalf("late fill is risk taken, trades = %d, want 1", snap.TradesExecuted)
	}
	if !snap.TotalLossUSD.Equal(decimal.NewFromFloat(7.2)) {
		t.Fatalf("loss = %s, want settled 7.2", snap.TotalLossUSD)
	}
}

func TestExecutorErrorRecordedInAudit(t *testing.T) {
	exec := &fakeExecutor{
		result: domain.ExecutionResult{Status: domain.ExecRejected, Reason: "duplicate submission"},
		err:    errors.New("advisory adv-1 already has an outstanding order"),
	}
	c, log, _, _ := newHarness(defaultCfg(), exec)

	_, err := c.SubmitTrade(context.Background(), testSnapshot(t, "adv-1"))
	if err == nil {
		t.Fatal("expected executor error to propagate")
	}
	entry := log.Entries()[0]
	if entry.Error == "" {
		t.Fatal("audit entry should carry the executor error")
	}
	if entry.ExecutionResult == nil || entry.ExecutionResult.Status != domain.ExecRejected {
		t.Fatal("audit entry should carry the execution result")
	}
}
