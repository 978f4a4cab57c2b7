package policy

import (
	"context"

	"github.com/tradeguard/tradeguard/internal/config"
)

// StaticBackend serves definitions from the YAML config. Highest priority
// in the chain: operator intent always wins over remote state.
type StaticBackend struct {
	defs map[string]Definition
}

func NewStaticBackend(static map[string]config.StaticPolicy) *StaticBackend {
	defs := make(map[string]Definition, len(static))
	for name, p := range static {
		defs[name] = Definition{
			Kind:            p.Kind,
			Outcome:         p.Outcome,
			Reason:          p.Reason,
			DeferSeconds:    p.DeferSeconds,
			WindowStartUTC:  p.WindowStartUTC,
			WindowEndUTC:    p.WindowEndUTC,
			BlockedRegimes:  p.BlockedRegimes,
			CooldownSeconds: p.CooldownSeconds,
			MaxExposureUSD:  p.MaxExposureUSD,
			MinConfidence:   p.MinConfidence,
		}
	}
	return &StaticBackend{defs: defs}
}

func (b *StaticBackend) Name() string { return "config" }

func (b *StaticBackend) Get(_ context.Context, policy string, _ Context) (Definition, bool, error) {
	def, ok := b.defs[policy]
	return def, ok, nil
}
