package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeguard/tradeguard/internal/broker"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/killswitch"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// HardExecutionTimeout is the fill deadline for every order. It is a fixed
// constant: never extended, never configurable at call time.
const HardExecutionTimeout = 30 * time.Second

const defaultPollInterval = 500 * time.Millisecond

// reconciledRetention bounds the exactly-once reconciliation guard. Entries
// far older than any possible in-flight attempt are pruned so a long-running
// engine does not grow one guard entry per advisory forever.
const reconciledRetention = 24 * time.Hour

// Engine drives one order from a frozen advisory snapshot to a terminal
// state: submit, poll for fill under the hard timeout, honor kill switches
// at each phase, attach SL/TP computed from the actual fill price, and
// reconcile broker state exactly once.
type Engine struct {
	broker       broker.Adapter
	ks           *killswitch.Switch
	pollInterval time.Duration
	hardTimeout  time.Duration

	mu          sync.Mutex
	outstanding map[string]bool      // advisory id -> submission in flight
	reconciled  map[string]time.Time // advisory id -> reconciliation time
	now         func() time.Time
}

func New(adapter broker.Adapter, ks *killswitch.Switch, pollInterval time.Duration) *Engine {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Engine{
		broker:       adapter,
		ks:           ks,
		pollInterval: pollInterval,
		hardTimeout:  HardExecutionTimeout,
		outstanding:  make(map[string]bool),
		reconciled:   make(map[string]time.Time),
		now:          time.Now,
	}
}

// Execute runs one attempt for the snapshot. The snapshot is read-only for
// the engine's entire lifetime; a retry of the same advisory reuses it
// unchanged and is refused while a prior submission is still outstanding.
func (e *Engine) Execute(ctx context.Context, snap domain.FrozenSnapshot) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{
		AdvisoryID: snap.AdvisoryID(),
		Symbol:     snap.Symbol(),
		Status:     domain.ExecSubmitted,
	}

	e.mu.Lock()
	if e.outstanding[snap.AdvisoryID()] {
		e.mu.Unlock()
		res.Status = domain.ExecRejected
		res.Reason = "submission already outstanding for advisory"
		return res, fmt.Errorf("advisory %s: submission already outstanding", snap.AdvisoryID())
	}
	e.outstanding[snap.AdvisoryID()] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.outstanding, snap.AdvisoryID())
		e.mu.Unlock()
	}()

	if !snap.Expiration().IsZero() && time.Now().After(snap.Expiration()) {
		res.Status = domain.ExecRejected
		res.Reason = "snapshot expired"
		return res, nil
	}

	// Pre-submission kill switch: no broker call is made.
	if e.ks.Active(snap.Symbol()) {
		res.Status = domain.ExecRejected
		res.Reason = "kill switch active at submission"
		observ.IncCounter("executions_total", map[string]string{"status": string(res.Status)})
		return res, nil
	}

	ack, err := e.broker.SubmitOrder(ctx, snap.Symbol(), snap.PositionSize(), "market")
	if err != nil {
		res.Status = domain.ExecRejected
		res.Reason = fmt.Sprintf("submit failed: %v", err)
		observ.IncCounter("executions_total", map[string]string{"status": string(res.Status)})
		return res, nil
	}
	res.OrderID = ack.OrderID
	res.SubmittedAt = time.Now().UTC()
	observ.Log("order_submitted", map[string]any{
		"advisory_id": snap.AdvisoryID(), "symbol": snap.Symbol(), "order_id": ack.OrderID,
	})

	e.pollUntilTerminal(ctx, snap, &res)

	res.CompletedAt = time.Now().UTC()
	e.reconcileOnce(ctx, snap, &res)

	observ.IncCounter("executions_total", map[string]string{"status": string(res.Status)})
	observ.Observe("execution_duration_seconds", res.CompletedAt.Sub(res.SubmittedAt).Seconds(), nil)
	return res, nil
}

// pollUntilTerminal queries order status at a fixed interval until fill,
// cancellation, or the hard timeout. Kill switch activation is observed at
// the next poll tick; an in-flight fill may still land, which the late-fill
// re-query and reconciliation tolerate.
func (e *Engine) pollUntilTerminal(ctx context.Context, snap domain.FrozenSnapshot, res *domain.ExecutionResult) {
	deadline := time.NewTimer(e.hardTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelPending(snap, res, "context cancelled")
			return

		case <-deadline.C:
			e.handleTimeout(snap, res)
			return

		case <-ticker.C:
			if e.ks.Active(snap.Symbol()) {
				e.cancelPending(snap, res, "kill switch activated while pending")
				return
			}

			queryCtx, cancel := context.WithTimeout(context.Background(), e.pollInterval)
			st, err := e.broker.GetOrderStatus(queryCtx, res.OrderID)
			cancel()
			if err != nil {
				// Transient query failure: keep polling, the deadline bounds us.
				observ.IncCounter("execution_poll_errors_total", nil)
				continue
			}

			switch st.State {
			case broker.OrderFilled:
				e.applyFill(snap, res, st.FillPrice, domain.ExecFilled)
				return
			case broker.OrderCancelled:
				res.Status = domain.ExecCancelled
				res.Reason = "cancelled by broker"
				return
			case broker.OrderRejected:
				res.Status = domain.ExecRejected
				res.Reason = "rejected by broker"
				return
			}
		}
	}
}

// cancelPending attempts a cancel for a still-pending order. If the cancel
// loses the race against a fill, the fill stands: the engine never
// force-closes a filled position.
func (e *Engine) cancelPending(snap domain.FrozenSnapshot, res *domain.ExecutionResult, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := e.broker.CancelOrder(ctx, res.OrderID)
	if err == nil && !ok {
		// Already filled at the broker.
		if st, qerr := e.broker.GetOrderStatus(ctx, res.OrderID); qerr == nil && st.State == broker.OrderFilled {
			e.applyFill(snap, res, st.FillPrice, domain.ExecFilled)
			return
		}
	}
	res.Status = domain.ExecCancelled
	res.Reason = reason
	observ.Log("order_cancelled", map[string]any{"order_id": res.OrderID, "reason": reason})
}

// handleTimeout cancels at the hard deadline and re-queries once for a
// race-condition late fill. A late fill is a valid outcome, not an error.
func (e *Engine) handleTimeout(snap domain.FrozenSnapshot, res *domain.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _ = e.broker.CancelOrder(ctx, res.OrderID)

	st, err := e.broker.GetOrderStatus(ctx, res.OrderID)
	if err == nil && st.State == broker.OrderFilled {
		e.applyFill(snap, res, st.FillPrice, domain.ExecFullLate)
		observ.IncCounter("execution_late_fills_total", nil)
		return
	}
	res.Status = domain.ExecFailedTimeout
	res.Reason = fmt.Sprintf("no fill within %s", e.hardTimeout)
}

// applyFill finalizes a filled execution: SL/TP derive from the actual fill
// price, never from the snapshot reference price.
func (e *Engine) applyFill(snap domain.FrozenSnapshot, res *domain.ExecutionResult, fillPrice decimal.Decimal, status domain.ExecutionStatus) {
	res.Status = status
	res.FinalFillPrice = fillPrice
	res.FinalSL = snap.StopLossAt(fillPrice)
	res.FinalTP = snap.TakeProfitAt(fillPrice)
	res.SlippagePct = fillPrice.Sub(snap.ReferencePrice()).
		Div(snap.ReferencePrice()).
		Mul(decimal.NewFromInt(100))
	res.RealizedLossUSD = fillPrice.Sub(res.FinalSL).Abs().Mul(snap.PositionSize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.broker.SetProtectiveOrders(ctx, snap.Symbol(), res.FinalSL, res.FinalTP); err != nil {
		// Left for reconciliation to flag; never retried in the hot path.
		observ.LogError("protective_orders_failed", map[string]any{
			"symbol": snap.Symbol(), "error": err.Error(),
		})
	}

	observ.Log("order_filled", map[string]any{
		"advisory_id": snap.AdvisoryID(),
		"symbol":      snap.Symbol(),
		"status":      string(status),
		"fill_price":  fillPrice.String(),
		"sl":          res.FinalSL.String(),
		"tp":          res.FinalTP.String(),
	})
}

// reconcileOnce issues exactly one broker query for order+position state per
// execution attempt, comparing expected vs. actual. Mismatches are reported,
// never auto-corrected.
func (e *Engine) reconcileOnce(ctx context.Context, snap domain.FrozenSnapshot, res *domain.ExecutionResult) {
	e.mu.Lock()
	now := e.now()
	for id, at := range e.reconciled {
		if now.Sub(at) > reconciledRetention {
			delete(e.reconciled, id)
		}
	}
	if _, done := e.reconciled[snap.AdvisoryID()]; done {
		e.mu.Unlock()
		return
	}
	e.reconciled[snap.AdvisoryID()] = now
	e.mu.Unlock()

	report := domain.ReconciliationReport{
		Performed:        true,
		ExpectedPosition: res.Status.RiskTaken(),
	}

	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("reconciliation query failed: %v", err))
		report.RequiresManualResolution = true
		res.Reconciliation = report
		return
	}

	var pos *broker.Position
	for i := range positions {
		if positions[i].Symbol == snap.Symbol() {
			pos = &positions[i]
			break
		}
	}
	report.ActualPosition = pos != nil

	switch {
	case report.ExpectedPosition && pos == nil:
		report.Mismatches = append(report.Mismatches, "missing_position")

	case !report.ExpectedPosition && pos != nil:
		report.Mismatches = append(report.Mismatches, "phantom_position")
		report.ActualSize = pos.Size.String()

	case report.ExpectedPosition && pos != nil:
		report.ExpectedSize = snap.PositionSize().String()
		report.ActualSize = pos.Size.String()
		if !pos.Size.Equal(snap.PositionSize()) {
			report.Mismatches = append(report.Mismatches, "size_mismatch")
		}
		if pos.SL == nil {
			report.Mismatches = append(report.Mismatches, "missing_sl")
		} else if !pos.SL.Equal(res.FinalSL) {
			report.Mismatches = append(report.Mismatches, "sl_mismatch")
		}
		if pos.TP == nil {
			report.Mismatches = append(report.Mismatches, "missing_tp")
		} else if !pos.TP.Equal(res.FinalTP) {
			report.Mismatches = append(report.Mismatches, "tp_mismatch")
		}
	}

	if len(report.Mismatches) > 0 {
		report.RequiresManualResolution = true
		observ.LogError("reconciliation_mismatch", map[string]any{
			"advisory_id": snap.AdvisoryID(),
			"symbol":      snap.Symbol(),
			"mismatches":  report.Mismatches,
		})
		observ.IncCounter("reconciliation_mismatches_total", map[string]string{"symbol": snap.Symbol()})
	}
	res.Reconciliation = report
}
