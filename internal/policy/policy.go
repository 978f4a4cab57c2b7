package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// Policy names recognized by the pipeline.
const (
	PolicyKillzone            = "killzone"
	PolicyRegime              = "regime"
	PolicyCooldown            = "cooldown"
	PolicyExposure            = "exposure"
	PolicyConfidenceThreshold = "confidence_threshold"
)

// Context is the read-only decision context handed to policy evaluation.
type Context struct {
	DecisionID  string    `json:"decision_id"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Confidence  float64   `json:"confidence"`
	Regime      string    `json:"regime,omitempty"`
	ExposureUSD float64   `json:"exposure_usd"`
	LastTradeAt time.Time `json:"last_trade_at,omitempty"`
	Now         time.Time `json:"now"`
}

// Definition is a resolved policy definition. Backends return definitions;
// the store evaluates them against the decision context. A backend may also
// return a pre-evaluated fixed outcome (Kind "fixed").
type Definition struct {
	Kind            string   `json:"kind"`
	Outcome         string   `json:"outcome,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	DeferSeconds    int      `json:"defer_seconds,omitempty"`
	WindowStartUTC  string   `json:"window_start_utc,omitempty"`
	WindowEndUTC    string   `json:"window_end_utc,omitempty"`
	BlockedRegimes  []string `json:"blocked_regimes,omitempty"`
	CooldownSeconds int      `json:"cooldown_seconds,omitempty"`
	MaxExposureUSD  float64  `json:"max_exposure_usd,omitempty"`
	MinConfidence   float64  `json:"min_confidence,omitempty"`
}

// Backend resolves a named policy to a definition. ok=false means the
// backend has no definition for this name; an error means the backend
// itself failed and the chain falls through.
type Backend interface {
	Name() string
	Get(ctx context.Context, policy string, pctx Context) (Definition, bool, error)
}

// Store resolves policies through a prioritized backend chain. The first
// backend returning a non-empty definition wins; definitions are never
// merged across backends. Every fallback is logged. If all backends fail
// the store returns the permissive default: fail-open for availability.
type Store struct {
	backends       []Backend
	backendTimeout time.Duration
}

func NewStore(backendTimeout time.Duration, backends ...Backend) *Store {
	if backendTimeout <= 0 {
		backendTimeout = 2 * time.Second
	}
	return &Store{backends: backends, backendTimeout: backendTimeout}
}

// GetPolicy resolves and evaluates one policy for the given context.
func (s *Store) GetPolicy(ctx context.Context, name string, pctx Context) domain.PolicyResult {
	if pctx.Now.IsZero() {
		pctx.Now = time.Now().UTC()
	}
	for _, b := range s.backends {
		bctx, cancel := context.WithTimeout(ctx, s.backendTimeout)
		def, ok, err := b.Get(bctx, name, pctx)
		cancel()
		if err != nil {
			observ.LogError("policy_backend_fallthrough", map[string]any{
				"policy": name, "backend": b.Name(), "error": err.Error(),
			})
			observ.IncCounter("policy_backend_errors_total", map[string]string{"backend": b.Name()})
			continue
		}
		if !ok {
			continue
		}
		res := Evaluate(name, def, pctx)
		res.Source = b.Name()
		observ.IncCounter("policy_results_total", map[string]string{
			"policy": name, "outcome": string(res.Outcome), "backend": b.Name(),
		})
		return res
	}

	observ.LogError("policy_all_backends_failed", map[string]any{"policy": name})
	observ.IncCounter("policy_results_total", map[string]string{
		"policy": name, "outcome": string(domain.PolicyPass), "backend": "default",
	})
	return domain.PolicyResult{
		PolicyName: name,
		Outcome:    domain.PolicyPass,
		Reason:     "permissive_default",
		Source:     "default",
	}
}

// Evaluate applies a definition to a context. Unknown kinds fail open with a
// logged reason rather than blocking the pipeline.
func Evaluate(name string, def Definition, pctx Context) domain.PolicyResult {
	res := domain.PolicyResult{PolicyName: name, Outcome: domain.PolicyPass}

	switch def.Kind {
	case "fixed", "":
		switch def.Outcome {
		case string(domain.PolicyVeto):
			res.Outcome = domain.PolicyVeto
			res.Reason = def.Reason
		case string(domain.PolicyDefer):
			res.Outcome = domain.PolicyDefer
			res.Reason = def.Reason
			res.DeferUntil = pctx.Now.Add(time.Duration(def.DeferSeconds) * time.Second)
		default:
			res.Reason = def.Reason
		}

	case "window":
		if inWindowUTC(pctx.Now, def.WindowStartUTC, def.WindowEndUTC) {
			res.Outcome = domain.PolicyVeto
			res.Reason = fmt.Sprintf("inside window %s-%s UTC", def.WindowStartUTC, def.WindowEndUTC)
		}

	case "regime":
		for _, blocked := range def.BlockedRegimes {
			if blocked == pctx.Regime {
				res.Outcome = domain.PolicyVeto
				res.Reason = fmt.Sprintf("regime %s blocked", pctx.Regime)
				break
			}
		}

	case "cooldown":
		if !pctx.LastTradeAt.IsZero() {
			until := pctx.LastTradeAt.Add(time.Duration(def.CooldownSeconds) * time.Second)
			if pctx.Now.Before(until) {
				res.Outcome = domain.PolicyDefer
				res.Reason = fmt.Sprintf("cooldown until %s", until.Format(time.RFC3339))
				res.DeferUntil = until
			}
		}

	case "exposure":
		if def.MaxExposureUSD > 0 && pctx.ExposureUSD > def.MaxExposureUSD {
			res.Outcome = domain.PolicyVeto
			res.Reason = fmt.Sprintf("exposure %.2f exceeds max %.2f", pctx.ExposureUSD, def.MaxExposureUSD)
		}

	case "threshold":
		if pctx.Confidence < def.MinConfidence {
			res.Outcome = domain.PolicyVeto
			res.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f", pctx.Confidence, def.MinConfidence)
		}

	default:
		observ.LogError("policy_unknown_kind", map[string]any{"policy": name, "kind": def.Kind})
		res.Reason = "unknown_definition_kind"
	}

	// A defer without a resumable timestamp is not actionable by the DLQ.
	if res.Outcome == domain.PolicyDefer && res.DeferUntil.IsZero() {
		res.DeferUntil = pctx.Now.Add(time.Minute)
	}
	return res
}

func inWindowUTC(now time.Time, start, end string) bool {
	s, errS := time.Parse("15:04", start)
	e, errE := time.Parse("15:04", end)
	if errS != nil || errE != nil {
		return false
	}
	n := now.UTC()
	cur := n.Hour()*60 + n.Minute()
	sm := s.Hour()*60 + s.Minute()
	em := e.Hour()*60 + e.Minute()
	if sm <= em {
		return cur >= sm && cur < em
	}
	// window spans midnight
	return cur >= sm || cur < em
}
