package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the terminal state of one execution attempt.
type ExecutionStatus string

const (
	ExecSubmitted     ExecutionStatus = "SUBMITTED" // transient, never returned
	ExecFilled        ExecutionStatus = "FILLED"
	ExecFullLate      ExecutionStatus = "EXECUTED_FULL_LATE"
	ExecCancelled     ExecutionStatus = "CANCELLED"
	ExecFailedTimeout ExecutionStatus = "FAILED_TIMEOUT"
	ExecRejected      ExecutionStatus = "REJECTED"
)

// RiskTaken reports whether the outcome means a position was actually opened,
// which is the condition for counting the trade against daily limits.
func (s ExecutionStatus) RiskTaken() bool {
	return s == ExecFilled || s == ExecFullLate
}

// Terminal reports whether the status is a valid end state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecFilled, ExecFullLate, ExecCancelled, ExecFailedTimeout, ExecRejected:
		return true
	}
	return false
}

// ReconciliationReport compares expected post-trade broker state with what
// the broker actually reports. Mismatches are flagged, never auto-corrected.
type ReconciliationReport struct {
	Performed                bool     `json:"performed"`
	ExpectedPosition         bool     `json:"expected_position"`
	ActualPosition           bool     `json:"actual_position"`
	ExpectedSize             string   `json:"expected_size,omitempty"`
	ActualSize               string   `json:"actual_size,omitempty"`
	Mismatches               []string `json:"mismatches,omitempty"`
	RequiresManualResolution bool     `json:"requires_manual_resolution"`
}

// ExecutionResult is the outcome of one execution attempt. final SL/TP are
// derived from FinalFillPrice, never from the snapshot reference price.
type ExecutionResult struct {
	AdvisoryID      string               `json:"advisory_id"`
	Symbol          string               `json:"symbol"`
	Status          ExecutionStatus      `json:"status"`
	OrderID         string               `json:"order_id,omitempty"`
	FinalFillPrice  decimal.Decimal      `json:"final_fill_price"`
	FinalSL         decimal.Decimal      `json:"final_sl"`
	FinalTP         decimal.Decimal      `json:"final_tp"`
	SlippagePct     decimal.Decimal      `json:"slippage_pct"`
	RealizedLossUSD decimal.Decimal      `json:"realized_loss_usd"`
	Reason          string               `json:"reason,omitempty"`
	SubmittedAt     time.Time            `json:"submitted_at,omitempty"`
	CompletedAt     time.Time            `json:"completed_at,omitempty"`
	Reconciliation  ReconciliationReport `json:"reconciliation"`
}

// GuardrailAction is the final action label of a submit_trade call.
type GuardrailAction string

const (
	ActionForwarded      GuardrailAction = "FORWARDED"
	ActionAborted        GuardrailAction = "ABORTED"
	ActionPaperExecution GuardrailAction = "PAPER_EXECUTION"
)

// GuardrailCheckResult records one of the seven mandatory pre-flight checks.
type GuardrailCheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}
