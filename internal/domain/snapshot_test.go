package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot(t *testing.T) FrozenSnapshot {
	t.Helper()
	snap, err := NewFrozenSnapshot(
		"adv-1", "EURUSD", "long",
		decimal.NewFromFloat(1.1000),
		decimal.NewFromFloat(-0.005),
		decimal.NewFromFloat(0.010),
		decimal.NewFromInt(1000),
		time.Now().Add(time.Minute),
	)
	require.NoError(t, err)
	return snap
}

func TestSnapshotValidation(t *testing.T) {
	tests := []struct {
		name     string
		refPrice float64
		sl       float64
		tp       float64
		size     int64
		wantErr  string
	}{
		{name: "positive sl offset", refPrice: 1.1, sl: 0.005, tp: 0.01, size: 1000, wantErr: "sl offset"},
		{name: "zero sl offset", refPrice: 1.1, sl: 0, tp: 0.01, size: 1000, wantErr: "sl offset"},
		{name: "negative tp offset", refPrice: 1.1, sl: -0.005, tp: -0.01, size: 1000, wantErr: "tp offset"},
		{name: "zero size", refPrice: 1.1, sl: -0.005, tp: 0.01, size: 0, wantErr: "position size"},
		{name: "zero reference price", refPrice: 0, sl: -0.005, tp: 0.01, size: 1000, wantErr: "reference price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrozenSnapshot(
				"adv-1", "EURUSD", "long",
				decimal.NewFromFloat(tt.refPrice),
				decimal.NewFromFloat(tt.sl),
				decimal.NewFromFloat(tt.tp),
				decimal.NewFromInt(tt.size),
				time.Now().Add(time.Minute),
			)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSnapshotProtectiveLevelsFollowFillPrice(t *testing.T) {
	snap := validSnapshot(t)

	fill := decimal.NewFromFloat(1.1020)
	assert.True(t, snap.StopLossAt(fill).Equal(fill.Mul(decimal.NewFromFloat(0.995))),
		"SL must be derived from the fill price, not the reference")
	assert.True(t, snap.TakeProfitAt(fill).Equal(fill.Mul(decimal.NewFromFloat(1.010))))

	otherFill := decimal.NewFromFloat(1.0950)
	assert.False(t, snap.StopLossAt(fill).Equal(snap.StopLossAt(otherFill)),
		"different fills give different protective levels")
}

func TestSnapshotEstimatedLoss(t *testing.T) {
	snap := validSnapshot(t)
	// |1.1000 - 1.1000*0.995| * 1000 = 5.5
	assert.True(t, snap.EstimatedLossUSD().Equal(decimal.NewFromFloat(5.5)),
		"estimated loss = |ref - SL(ref)| * size, got %s", snap.EstimatedLossUSD())
}

func TestExecutionStatusClassification(t *testing.T) {
	assert.True(t, ExecFilled.RiskTaken())
	assert.True(t, ExecFullLate.RiskTaken())
	assert.False(t, ExecCancelled.RiskTaken())
	assert.False(t, ExecFailedTimeout.RiskTaken())
	assert.False(t, ExecRejected.RiskTaken())

	assert.True(t, ExecRejected.Terminal())
	assert.False(t, ExecSubmitted.Terminal())
}

func TestDecisionEventValidate(t *testing.T) {
	ev := DecisionEvent{
		ID:            "d-1",
		Symbol:        "EURUSD",
		Timeframe:     "1h",
		Confidence:    0.7,
		ReasoningMode: "passthrough",
		Direction:     "long",
	}
	require.NoError(t, ev.Validate())

	for _, tt := range []struct {
		name   string
		mutate func(*DecisionEvent)
	}{
		{"missing id", func(e *DecisionEvent) { e.ID = "" }},
		{"missing symbol", func(e *DecisionEvent) { e.Symbol = "" }},
		{"missing mode", func(e *DecisionEvent) { e.ReasoningMode = "" }},
		{"bad direction", func(e *DecisionEvent) { e.Direction = "sideways" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			bad := ev
			tt.mutate(&bad)
			assert.Error(t, bad.Validate())
		})
	}
}
