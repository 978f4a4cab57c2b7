package reasoning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tradeguard/tradeguard/internal/domain"
	"github.com/tradeguard/tradeguard/internal/observ"
)

// ReasonerFunc produces advisory signals for one decision. Implementations
// receive copies of the payload and context and must treat them as read-only;
// anything they return is new value objects.
type ReasonerFunc func(ctx context.Context, decisionID string, payload, rctx map[string]interface{}) ([]domain.AdvisorySignal, error)

// Manager dispatches reasoning by mode under a hard deadline. Reason never
// returns an error and never mutates shared state: unknown modes, timeouts,
// panics and in-function failures all degrade to synthetic signals.
type Manager struct {
	mu        sync.RWMutex
	reasoners map[string]ReasonerFunc
}

func NewManager() *Manager {
	return &Manager{reasoners: make(map[string]ReasonerFunc)}
}

func (m *Manager) Register(mode string, fn ReasonerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoners[mode] = fn
}

type reasonOutcome struct {
	signals []domain.AdvisorySignal
	err     error
}

// Reason executes the registered reasoner for mode. On deadline expiry the
// in-flight function is abandoned entirely: partial output never applies.
func (m *Manager) Reason(ctx context.Context, decisionID string, payload, rctx map[string]interface{}, mode string, timeout time.Duration) []domain.AdvisorySignal {
	m.mu.RLock()
	fn, ok := m.reasoners[mode]
	m.mu.RUnlock()

	if !ok {
		observ.IncCounter("reasoning_calls_total", map[string]string{"mode": mode, "result": "unknown_mode"})
		return []domain.AdvisorySignal{{
			DecisionID: decisionID,
			SignalType: domain.SignalUnknownReasoningMode,
			Error:      fmt.Sprintf("no reasoner registered for mode %q", mode),
		}}
	}

	rctxCopy := copyMap(rctx)
	payloadCopy := copyMap(payload)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan reasonOutcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reasonOutcome{err: fmt.Errorf("reasoner panic: %v", r)}
			}
		}()
		signals, err := fn(runCtx, decisionID, payloadCopy, rctxCopy)
		done <- reasonOutcome{signals: signals, err: err}
	}()

	select {
	case <-runCtx.Done():
		observ.IncCounter("reasoning_calls_total", map[string]string{"mode": mode, "result": "timeout"})
		observ.Observe("reasoning_duration_seconds", time.Since(start).Seconds(), map[string]string{"mode": mode})
		return []domain.AdvisorySignal{{
			DecisionID: decisionID,
			SignalType: domain.SignalTimeout,
			Error:      fmt.Sprintf("reasoning exceeded %s", timeout),
		}}
	case out := <-done:
		observ.Observe("reasoning_duration_seconds", time.Since(start).Seconds(), map[string]string{"mode": mode})
		if out.err != nil {
			observ.IncCounter("reasoning_calls_total", map[string]string{"mode": mode, "result": "error"})
			return []domain.AdvisorySignal{{
				DecisionID: decisionID,
				SignalType: domain.SignalError,
				Error:      out.err.Error(),
			}}
		}
		observ.IncCounter("reasoning_calls_total", map[string]string{"mode": mode, "result": "ok"})
		return sanitize(decisionID, out.signals)
	}
}

// sanitize clamps confidences into [0,1]; out-of-range or non-finite values
// become nil instead of failing the call.
func sanitize(decisionID string, signals []domain.AdvisorySignal) []domain.AdvisorySignal {
	out := make([]domain.AdvisorySignal, 0, len(signals))
	for _, s := range signals {
		s.DecisionID = decisionID
		if s.SignalType == "" {
			s.SignalType = domain.SignalAdvisory
		}
		if s.Confidence != nil {
			c := *s.Confidence
			switch {
			case math.IsNaN(c) || math.IsInf(c, 0):
				s.Confidence = nil
			case c < 0:
				c = 0
				s.Confidence = &c
			case c > 1:
				c = 1
				s.Confidence = &c
			}
		}
		out = append(out, s)
	}
	return out
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
