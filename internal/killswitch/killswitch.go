package killswitch

import (
	"sync"

	"github.com/tradeguard/tradeguard/internal/observ"
)

// Switch owns the global and per-symbol kill switches. Activation is
// observed by execution polling loops at the next tick; it is not an
// interrupt. One owner, mutex-guarded, no module-level globals.
type Switch struct {
	mu      sync.RWMutex
	global  bool
	symbols map[string]bool
}

func New() *Switch {
	return &Switch{symbols: make(map[string]bool)}
}

func (s *Switch) ActivateGlobal(reason string) {
	s.mu.Lock()
	s.global = true
	s.mu.Unlock()
	observ.Log("kill_switch_activated", map[string]any{"scope": "global", "reason": reason})
	observ.SetGauge("kill_switch_global", 1, nil)
}

func (s *Switch) DeactivateGlobal() {
	s.mu.Lock()
	s.global = false
	s.mu.Unlock()
	observ.SetGauge("kill_switch_global", 0, nil)
}

func (s *Switch) ActivateSymbol(symbol, reason string) {
	s.mu.Lock()
	s.symbols[symbol] = true
	s.mu.Unlock()
	observ.Log("kill_switch_activated", map[string]any{"scope": "symbol", "symbol": symbol, "reason": reason})
}

func (s *Switch) DeactivateSymbol(symbol string) {
	s.mu.Lock()
	delete(s.symbols, symbol)
	s.mu.Unlock()
}

// GlobalActive reports the global switch alone.
func (s *Switch) GlobalActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SymbolActive reports the per-symbol switch alone.
func (s *Switch) SymbolActive(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbols[symbol]
}

// Active reports whether trading for symbol is killed by either scope.
func (s *Switch) Active(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global || s.symbols[symbol]
}
