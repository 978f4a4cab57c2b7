package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradeguard/tradeguard/internal/dlq"
	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/notify"
	"github.com/tradeguard/tradeguard/internal/observ"
	"github.com/tradeguard/tradeguard/internal/policy"
	"github.com/tradeguard/tradeguard/internal/reasoning"
	"github.com/tradeguard/tradeguard/internal/store"
)

// Terminal pipeline statuses.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusRejected  = "rejected"
	StatusDeferred  = "deferred"
)

// prePolicies run before reasoning; confidence_threshold runs after, once
// advisory signals are in.
var prePolicies = []string{
	policy.PolicyKillzone,
	policy.PolicyRegime,
	policy.PolicyCooldown,
	policy.PolicyExposure,
}

// Result is the terminal outcome of one pipeline pass.
type Result struct {
	DecisionID string                  `json:"decision_id"`
	Status     string                  `json:"status"`
	Reason     string                  `json:"reason,omitempty"`
	DeferUntil time.Time               `json:"defer_until,omitempty"`
	Policies   []domain.PolicyResult   `json:"policies,omitempty"`
	Signals    []domain.AdvisorySignal `json:"signals,omitempty"`
	RecordID   string                  `json:"record_id,omitempty"`
}

type Config struct {
	DedupWindow      time.Duration
	ReasoningTimeout time.Duration
}

// Orchestrator drives each decision event through dedup, policy gates,
// reasoning, persistence and notification. Failures downstream of the
// policy verdict never lose the decision: they land in the DLQ instead.
type Orchestrator struct {
	cfg      Config
	dedup    FingerprintStore
	policies *policy.Store
	reasoner *reasoning.Manager
	store    store.DecisionStore
	notifier notify.Notifier
	queue    *dlq.Queue
	now      func() time.Time
}

func New(cfg Config, dedup FingerprintStore, pol *policy.Store, rm *reasoning.Manager, st store.DecisionStore, n notify.Notifier, q *dlq.Queue) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		dedup:    dedup,
		policies: pol,
		reasoner: rm,
		store:    st,
		notifier: n,
		queue:    q,
		now:      time.Now,
	}
	if q != nil {
		q.RegisterHandler("deferred_decision", o.resumeDeferred)
	}
	return o
}

// Process runs one event through the full pipeline. It only returns an
// error for malformed input; every operational failure is absorbed into the
// result and the DLQ.
func (o *Orchestrator) Process(ctx context.Context, ev domain.DecisionEvent) (Result, error) {
	return o.process(ctx, ev, false)
}

// process is the pipeline body. A resumed pass skips the dedup check: the
// deferring pass already registered the fingerprint, and re-running through
// dedup would swallow the decision as its own duplicate.
func (o *Orchestrator) process(ctx context.Context, ev domain.DecisionEvent, resumed bool) (Result, error) {
	if err := ev.Validate(); err != nil {
		observ.IncCounter("decisions_total", map[string]string{"status": StatusRejected})
		return Result{DecisionID: ev.ID, Status: StatusRejected, Reason: err.Error()}, err
	}

	fp := Fingerprint(ev)
	if !resumed {
		first, err := o.dedup.FirstSeen(ctx, fp, o.cfg.DedupWindow)
		if err != nil {
			// Dedup store down: fail open and process. The guardrail still
			// gates anything that would move money twice.
			observ.LogError("dedup_store_failed", map[string]any{
				"decision_id": ev.ID, "error": err.Error(),
			})
			first = true
		}
		if !first {
			observ.IncCounter("decisions_total", map[string]string{"status": StatusSkipped})
			observ.Log("decision_skipped", map[string]any{
				"decision_id": ev.ID, "symbol": ev.Symbol, "fingerprint": fp,
			})
			return Result{DecisionID: ev.ID, Status: StatusSkipped, Reason: "duplicate within dedup window"}, nil
		}
	}

	pctx := o.policyContext(ev)
	res := Result{DecisionID: ev.ID}

	for _, name := range prePolicies {
		pr := o.policies.GetPolicy(ctx, name, pctx)
		res.Policies = append(res.Policies, pr)
		if done := o.applyPolicyVerdict(ctx, ev, fp, pr, &res); done {
			return res, nil
		}
	}

	res.Signals = o.reasoner.Reason(ctx, ev.ID, ev.RawPayload, o.reasoningContext(ev), ev.ReasoningMode, o.cfg.ReasoningTimeout)

	// Reasoning may refine confidence; the threshold gate sees the best
	// advisory confidence when one exists, the event's otherwise.
	pctx.Confidence = bestConfidence(ev.Confidence, res.Signals)
	pr := o.policies.GetPolicy(ctx, policy.PolicyConfidenceThreshold, pctx)
	res.Policies = append(res.Policies, pr)
	if done := o.applyPolicyVerdict(ctx, ev, fp, pr, &res); done {
		return res, nil
	}

	res.Status = StatusProcessed
	res.RecordID = o.persist(ctx, ev, fp, res)
	o.notifyProcessed(ctx, ev, res)

	observ.IncCounter("decisions_total", map[string]string{"status": StatusProcessed})
	observ.Log("decision_processed", map[string]any{
		"decision_id": ev.ID, "symbol": ev.Symbol, "signals": len(res.Signals),
	})
	return res, nil
}

// applyPolicyVerdict folds one policy result into the pipeline outcome.
// Returns true when the verdict terminates the pass.
func (o *Orchestrator) applyPolicyVerdict(ctx context.Context, ev domain.DecisionEvent, fp string, pr domain.PolicyResult, res *Result) bool {
	switch pr.Outcome {
	case domain.PolicyVeto:
		res.Status = StatusRejected
		res.Reason = fmt.Sprintf("%s: %s", pr.PolicyName, pr.Reason)
		res.RecordID = o.persist(ctx, ev, fp, *res)
		observ.IncCounter("decisions_total", map[string]string{"status": StatusRejected})
		observ.Log("decision_rejected", map[string]any{
			"decision_id": ev.ID, "policy": pr.PolicyName, "reason": pr.Reason,
		})
		return true
	case domain.PolicyDefer:
		res.Status = StatusDeferred
		res.Reason = fmt.Sprintf("%s: %s", pr.PolicyName, pr.Reason)
		res.DeferUntil = pr.DeferUntil
		o.queue.Enqueue("deferred_decision", deferredPayload(ev), pr.DeferUntil,
			fmt.Errorf("deferred by %s until %s", pr.PolicyName, pr.DeferUntil.Format(time.RFC3339)))
		observ.IncCounter("decisions_total", map[string]string{"status": StatusDeferred})
		observ.Log("decision_deferred", map[string]any{
			"decision_id": ev.ID, "policy": pr.PolicyName, "resume_at": pr.DeferUntil,
		})
		return true
	default:
		return false
	}
}

// persist writes the decision record; on failure the record goes to the DLQ
// and the pipeline continues.
func (o *Orchestrator) persist(ctx context.Context, ev domain.DecisionEvent, fp string, res Result) string {
	rec := store.DecisionRecord{
		ID:          ev.ID,
		Event:       ev,
		Status:      res.Status,
		Fingerprint: fp,
		Policies:    res.Policies,
		Signals:     res.Signals,
		PersistedAt: o.now().UTC(),
	}
	id, err := o.store.InsertDecision(ctx, rec)
	if err != nil {
		payload := map[string]interface{}{}
		if b, merr := json.Marshal(rec); merr == nil {
			_ = json.Unmarshal(b, &payload)
		}
		o.queue.Enqueue("persistence", payload, o.now(), err)
		observ.LogError("decision_persist_failed", map[string]any{
			"decision_id": ev.ID, "error": err.Error(),
		})
		return ""
	}
	return id
}

func (o *Orchestrator) notifyProcessed(ctx context.Context, ev domain.DecisionEvent, res Result) {
	if o.notifier == nil {
		return
	}
	msg := fmt.Sprintf("decision %s %s %s processed (confidence %.2f, %d signals)",
		ev.ID, ev.Symbol, ev.Direction, ev.Confidence, len(res.Signals))
	if err := o.notifier.Notify(ctx, msg, notify.LevelInfo); err != nil {
		payload := map[string]interface{}{
			"decision_id": ev.ID,
			"message":     msg,
			"level":       string(notify.LevelInfo),
		}
		// Scope the retry to the channels that actually failed so the DLQ
		// never re-delivers to a channel that already got the message.
		var derr *notify.DeliveryError
		if errors.As(err, &derr) {
			payload["channels"] = derr.Failed
		}
		o.queue.Enqueue("notification", payload, o.now(), err)
	}
}

// resumeDeferred re-runs a deferred decision once the DLQ releases it.
func (o *Orchestrator) resumeDeferred(ctx context.Context, e domain.DLQEntry) error {
	ev, err := eventFromPayload(e.Payload)
	if err != nil {
		return fmt.Errorf("deferred entry %s: %w", e.ID, err)
	}
	res, err := o.process(ctx, ev, true)
	if err != nil {
		return err
	}
	if res.Status == StatusDeferred {
		return fmt.Errorf("decision %s deferred again until %s", ev.ID, res.DeferUntil.Format(time.RFC3339))
	}
	return nil
}

func (o *Orchestrator) policyContext(ev domain.DecisionEvent) policy.Context {
	pctx := policy.Context{
		DecisionID: ev.ID,
		Symbol:     ev.Symbol,
		Timeframe:  ev.Timeframe,
		Confidence: ev.Confidence,
		Now:        o.now().UTC(),
	}
	if v, ok := ev.RawPayload["regime"].(string); ok {
		pctx.Regime = v
	}
	if v, ok := ev.RawPayload["exposure_usd"].(float64); ok {
		pctx.ExposureUSD = v
	}
	if v, ok := ev.RawPayload["last_trade_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			pctx.LastTradeAt = t
		}
	}
	return pctx
}

func (o *Orchestrator) reasoningContext(ev domain.DecisionEvent) map[string]interface{} {
	return map[string]interface{}{
		"symbol":     ev.Symbol,
		"timeframe":  ev.Timeframe,
		"direction":  ev.Direction,
		"confidence": ev.Confidence,
	}
}

func bestConfidence(base float64, signals []domain.AdvisorySignal) float64 {
	best := base
	for _, s := range signals {
		if s.SignalType != domain.SignalAdvisory || s.Confidence == nil {
			continue
		}
		if *s.Confidence > best {
			best = *s.Confidence
		}
	}
	return best
}

func deferredPayload(ev domain.DecisionEvent) map[string]interface{} {
	payload := map[string]interface{}{}
	if b, err := json.Marshal(ev); err == nil {
		_ = json.Unmarshal(b, &payload)
	}
	return payload
}

func eventFromPayload(payload map[string]interface{}) (domain.DecisionEvent, error) {
	var ev domain.DecisionEvent
	b, err := json.Marshal(payload)
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, err
	}
	return ev, ev.Validate()
}
