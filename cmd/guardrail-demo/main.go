package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeguard/tradeguard/internal/audit"
	"github.com/tradeguard/tradeguard/internal/broker"
	"github.com/tradeguard/tradeguard/internal/config"
	"github.com/tradeguard/tradeguard/internal/counters"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/execution"
	"github.com/tradeguard/tradeguard/internal/guardrail"
	"github.com/tradeguard/tradeguard/internal/killswitch"
)

// Scenario runner for the guardrail and execution path against the sim
// broker: a clean fill, a kill-switch abort, and a daily-limit abort.
func main() {
	auditPath := flag.String("audit", "data/demo_audit.jsonl", "audit log output")
	flag.Parse()

	fmt.Println("guardrail demo: sim broker, three scenarios")
	fmt.Println("===========================================")

	sim := broker.NewSim(broker.SimConfig{
		FillDelay:      300 * time.Millisecond,
		SlippageBpsMin: 1,
		SlippageBpsMax: 5,
		Prices: map[string]float64{
			"EURUSD": 1.1000,
			"GBPUSD": 1.2700,
		},
	})
	ks := killswitch.New()
	ctr := counters.New()

	auditLog, err := audit.NewFileLog(*auditPath)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}

	engine := execution.New(sim, ks, 50*time.Millisecond)
	ctrl := guardrail.NewController(config.Guardrails{
		DailyMaxTrades:     2,
		DailyMaxLossUSD:    100,
		PerSymbolMaxTrades: 1,
		PaperMode:          true,
	}, sim, ks, ctr, auditLog, engine)

	ctx := context.Background()

	fmt.Println("\n--- scenario 1: clean fill ---")
	report(ctrl.SubmitTrade(ctx, mustSnapshot("adv-1", "EURUSD")))

	fmt.Println("\n--- scenario 2: global kill switch ---")
	ks.ActivateGlobal("demo operator halt")
	report(ctrl.SubmitTrade(ctx, mustSnapshot("adv-2", "GBPUSD")))
	ks.DeactivateGlobal()

	fmt.Println("\n--- scenario 3: per-symbol limit ---")
	report(ctrl.SubmitTrade(ctx, mustSnapshot("adv-3", "EURUSD")))

	snap := ctr.Get()
	fmt.Printf("\ncounters: trades=%d loss=%s per-symbol=%v\n",
		snap.TradesExecuted, snap.TotalLossUSD.StringFixed(2), snap.PerSymbolTrades)
	fmt.Printf("audit log written to %s\n", *auditPath)
}

func report(res domain.ExecutionResult, err error) {
	if err != nil {
		fmt.Printf("  error: %v\n", err)
	}
	fmt.Printf("  %s %s status=%s", res.AdvisoryID, res.Symbol, res.Status)
	if res.Status.RiskTaken() {
		fmt.Printf(" fill=%s sl=%s tp=%s slippage=%s%%",
			res.FinalFillPrice.StringFixed(5),
			res.FinalSL.StringFixed(5),
			res.FinalTP.StringFixed(5),
			res.SlippagePct.StringFixed(3))
	}
	if res.Reason != "" {
		fmt.Printf(" reason=%q", res.Reason)
	}
	fmt.Println()
	if res.Reconciliation.RequiresManualResolution {
		fmt.Printf("  reconciliation mismatches: %v\n", res.Reconciliation.Mismatches)
	}
}

func mustSnapshot(advisoryID, symbol string) domain.FrozenSnapshot {
	snap, err := domain.NewFrozenSnapshot(
		advisoryID, symbol, "long",
		decimal.NewFromFloat(1.1000),
		decimal.NewFromFloat(-0.005),
		decimal.NewFromFloat(0.010),
		decimal.NewFromInt(1000),
		time.Now().Add(time.Minute),
	)
	if err != nil {
		log.Fatalf("snapshot %s: %v", advisoryID, err)
	}
	return snap
}
