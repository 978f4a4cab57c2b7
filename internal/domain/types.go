package domain

import (
	"fmt"
	"time"
)

// DecisionEvent is the inbound decision payload handed to the orchestrator by
// the ingestion layer. Events are immutable; the orchestrator consumes each
// logical decision exactly once.
type DecisionEvent struct {
	ID            string                 `json:"id"` // UUIDv4
	Symbol        string                 `json:"symbol"`
	Timeframe     string                 `json:"timeframe"`
	Timestamp     time.Time              `json:"timestamp"`
	Confidence    float64                `json:"confidence"`
	ReasoningMode string                 `json:"reasoning_mode"`
	Direction     string                 `json:"direction"` // "long" | "short"
	RawPayload    map[string]interface{} `json:"raw_payload,omitempty"`
}

// Validate rejects malformed events before they enter the pipeline.
func (e DecisionEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("decision event missing id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("decision event %s missing symbol", e.ID)
	}
	if e.ReasoningMode == "" {
		return fmt.Errorf("decision event %s missing reasoning_mode", e.ID)
	}
	if e.Direction != "long" && e.Direction != "short" {
		return fmt.Errorf("decision event %s has invalid direction %q", e.ID, e.Direction)
	}
	return nil
}

// SignalType classifies an advisory signal.
const (
	SignalAdvisory             = "advisory"
	SignalTimeout              = "timeout"
	SignalError                = "error"
	SignalUnknownReasoningMode = "unknown_reasoning_mode"
)

// AdvisorySignal is the output of one reasoning pass. Signals are value
// objects; the reasoning layer never mutates orchestrator state.
type AdvisorySignal struct {
	DecisionID string                 `json:"decision_id"`
	SignalType string                 `json:"signal_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"` // clamped [0,1], nil when unusable
	Error      string                 `json:"error,omitempty"`
}

// PolicyOutcome is the three-valued result of a policy check.
type PolicyOutcome string

const (
	PolicyPass  PolicyOutcome = "pass"
	PolicyVeto  PolicyOutcome = "veto"
	PolicyDefer PolicyOutcome = "defer"
)

// PolicyResult is the outcome of one policy evaluation. A defer always
// carries a resumable timestamp; the caller owns re-submission.
type PolicyResult struct {
	PolicyName string        `json:"policy_name"`
	Outcome    PolicyOutcome `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	DeferUntil time.Time     `json:"defer_until,omitempty"`
	Source     string        `json:"source,omitempty"` // backend that produced the definition
}
