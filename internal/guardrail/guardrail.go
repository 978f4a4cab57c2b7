package guardrail

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradeguard/tradeguard/internal/audit"
	"github.com/tradeguard/tradeguard/internal/broker"
	"github.com/tradeguard/tradeguard/internal/config"
	"github.com/tradeguard/tradeguard/internal/counters"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/killswitch"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// Executor runs a frozen snapshot against the broker. Satisfied by
// execution.Engine.
type Executor interface {
	Execute(ctx context.Context, snap domain.FrozenSnapshot) (domain.ExecutionResult, error)
}

const (
	checkBrokerConnectivity = "broker_connectivity"
	checkGlobalKillSwitch   = "global_kill_switch"
	checkSymbolKillSwitch   = "symbol_kill_switch"
	checkDailyMaxTrades     = "daily_max_trades"
	checkPerSymbolMaxTrades = "per_symbol_max_trades"
	checkDailyMaxLoss       = "daily_max_loss"
	checkTradingMode        = "trading_mode"
)

// Controller is the last gate before money moves. Every submitted trade
// passes all seven checks, every call produces exactly one audit entry, and
// counters only accrue when risk was actually taken.
type Controller struct {
	cfg      config.Guardrails
	adapter  broker.Adapter
	ks       *killswitch.Switch
	counters *counters.DailyCounters
	auditLog audit.Log
	executor Executor
}

func NewController(cfg config.Guardrails, adapter broker.Adapter, ks *killswitch.Switch, ctr *counters.DailyCounters, log audit.Log, exec Executor) *Controller {
	return &Controller{
		cfg:      cfg,
		adapter:  adapter,
		ks:       ks,
		counters: ctr,
		auditLog: log,
		executor: exec,
	}
}

// SubmitTrade evaluates every guardrail check against the snapshot, then
// forwards to the execution engine only when all pass. Checks are never
// short-circuited: the audit entry carries the verdict of all seven even
// when the first one already failed.
func (c *Controller) SubmitTrade(ctx context.Context, snap domain.FrozenSnapshot) (domain.ExecutionResult, error) {
	estLoss := snap.EstimatedLossUSD()
	limits := counters.Limits{
		DailyMaxTrades:     c.cfg.DailyMaxTrades,
		PerSymbolMaxTrades: c.cfg.PerSymbolMaxTrades,
		DailyMaxLossUSD:    decimal.NewFromFloat(c.cfg.DailyMaxLossUSD),
	}
	// Counter checks and the reservation happen in one critical section so
	// two concurrent submits cannot both slip under a limit.
	lim := c.counters.CheckAndReserve(snap.Symbol(), estLoss, limits)

	checks := []domain.GuardrailCheckResult{
		c.checkConnectivity(ctx),
		c.checkGlobalKill(),
		c.checkSymbolKill(snap.Symbol()),
		{
			Name:   checkDailyMaxTrades,
			Passed: lim.DailyOK,
			Reason: fmt.Sprintf("%d/%d trades today", lim.Snapshot.TradesExecuted, c.cfg.DailyMaxTrades),
		},
		{
			Name:   checkPerSymbolMaxTrades,
			Passed: lim.SymbolOK,
			Reason: fmt.Sprintf("%d/%d trades for %s", lim.Snapshot.PerSymbolTrades[snap.Symbol()], c.cfg.PerSymbolMaxTrades, snap.Symbol()),
		},
		{
			Name:   checkDailyMaxLoss,
			Passed: lim.LossOK,
			Reason: fmt.Sprintf("loss %s + est %s vs max %s", lim.Snapshot.TotalLossUSD, estLoss, limits.DailyMaxLossUSD),
		},
		c.checkMode(),
	}

	entry := domain.NewAuditLogEntry(snap.AdvisoryID(), snap.Symbol())
	entry.GuardrailChecks = checks

	if name, reason, failed := firstFailure(checks); failed {
		// Counter failures never reserved; a reservation here means a
		// non-counter check failed, so back it out.
		if lim.Reserved {
			c.counters.Release(snap.Symbol(), estLoss)
		}
		entry.FinalAction = domain.ActionAborted
		result := domain.ExecutionResult{
			AdvisoryID: snap.AdvisoryID(),
			Symbol:     snap.Symbol(),
			Status:     domain.ExecRejected,
			Reason:     reason,
		}
		entry.ExecutionResult = &result
		c.appendAudit(entry)
		observ.IncCounter("guardrail_aborted_total", map[string]string{"check": name})
		observ.Log("guardrail_aborted", map[string]any{
			"advisory_id": snap.AdvisoryID(),
			"symbol":      snap.Symbol(),
			"reason":      reason,
		})
		return result, nil
	}

	action := domain.ActionForwarded
	if c.cfg.PaperMode {
		action = domain.ActionPaperExecution
	}
	entry.FinalAction = action
	observ.IncCounter("guardrail_forwarded_total", map[string]string{"action": string(action)})

	result, err := c.executor.Execute(ctx, snap)
	if err != nil {
		entry.Error = err.Error()
	}
	entry.ExecutionResult = &result

	if result.Status.RiskTaken() {
		c.counters.Settle(snap.Symbol(), estLoss, result.RealizedLossUSD)
	} else {
		c.counters.Release(snap.Symbol(), estLoss)
	}

	c.appendAudit(entry)
	return result, err
}

func (c *Controller) checkConnectivity(ctx context.Context) domain.GuardrailCheckResult {
	ok := c.adapter.IsConnected(ctx)
	r := domain.GuardrailCheckResult{Name: checkBrokerConnectivity, Passed: ok}
	if !ok {
		r.Reason = "broker disconnected"
	}
	return r
}

func (c *Controller) checkGlobalKill() domain.GuardrailCheckResult {
	active := c.ks.GlobalActive()
	r := domain.GuardrailCheckResult{Name: checkGlobalKillSwitch, Passed: !active}
	if active {
		r.Reason = "global kill switch active"
	}
	return r
}

func (c *Controller) checkSymbolKill(symbol string) domain.GuardrailCheckResult {
	active := c.ks.SymbolActive(symbol)
	r := domain.GuardrailCheckResult{Name: checkSymbolKillSwitch, Passed: !active}
	if active {
		r.Reason = "kill switch active for " + symbol
	}
	return r
}

func (c *Controller) checkMode() domain.GuardrailCheckResult {
	mode := "live"
	if c.cfg.PaperMode {
		mode = "paper"
	}
	return domain.GuardrailCheckResult{Name: checkTradingMode, Passed: true, Reason: mode}
}

func firstFailure(checks []domain.GuardrailCheckResult) (string, string, bool) {
	for _, ch := range checks {
		if !ch.Passed {
			reason := ch.Reason
			if reason == "" {
				reason = ch.Name
			}
			return ch.Name, ch.Name + ": " + reason, true
		}
	}
	return "", "", false
}

func (c *Controller) appendAudit(entry domain.AuditLogEntry) {
	if err := c.auditLog.Append(entry); err != nil {
		observ.LogError("audit_append_failed", map[string]any{
			"advisory_id": entry.AdvisoryID,
			"error":       err.Error(),
		})
	}
}
