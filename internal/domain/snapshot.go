package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FrozenSnapshot is the immutable execution contract built at approval time.
// All fields are fixed at construction; the execution engine reads it for its
// entire lifetime and never writes it. SL/TP offsets are relative to the
// eventual fill price, not ReferencePrice.
type FrozenSnapshot struct {
	advisoryID     string
	symbol         string
	direction      string
	referencePrice decimal.Decimal
	slOffsetPct    decimal.Decimal // < 0
	tpOffsetPct    decimal.Decimal // > 0
	positionSize   decimal.Decimal // > 0
	expiration     time.Time
	createdAt      time.Time
}

// NewFrozenSnapshot validates and constructs a snapshot. Invalid offsets or
// sizes are a ValidationError equivalent: rejected immediately, never retried.
func NewFrozenSnapshot(advisoryID, symbol, direction string, referencePrice, slOffsetPct, tpOffsetPct, positionSize decimal.Decimal, expiration time.Time) (FrozenSnapshot, error) {
	if advisoryID == "" || symbol == "" {
		return FrozenSnapshot{}, fmt.Errorf("snapshot requires advisory id and symbol")
	}
	if referencePrice.Sign() <= 0 {
		return FrozenSnapshot{}, fmt.Errorf("snapshot %s: reference price must be positive, got %s", advisoryID, referencePrice)
	}
	if slOffsetPct.Sign() >= 0 {
		return FrozenSnapshot{}, fmt.Errorf("snapshot %s: sl offset must be negative, got %s", advisoryID, slOffsetPct)
	}
	if tpOffsetPct.Sign() <= 0 {
		return FrozenSnapshot{}, fmt.Errorf("snapshot %s: tp offset must be positive, got %s", advisoryID, tpOffsetPct)
	}
	if positionSize.Sign() <= 0 {
		return FrozenSnapshot{}, fmt.Errorf("snapshot %s: position size must be positive, got %s", advisoryID, positionSize)
	}
	return FrozenSnapshot{
		advisoryID:     advisoryID,
		symbol:         symbol,
		direction:      direction,
		referencePrice: referencePrice,
		slOffsetPct:    slOffsetPct,
		tpOffsetPct:    tpOffsetPct,
		positionSize:   positionSize,
		expiration:     expiration,
		createdAt:      time.Now().UTC(),
	}, nil
}

func (s FrozenSnapshot) AdvisoryID() string              { return s.advisoryID }
func (s FrozenSnapshot) Symbol() string                  { return s.symbol }
func (s FrozenSnapshot) Direction() string               { return s.direction }
func (s FrozenSnapshot) ReferencePrice() decimal.Decimal { return s.referencePrice }
func (s FrozenSnapshot) SLOffsetPct() decimal.Decimal    { return s.slOffsetPct }
func (s FrozenSnapshot) TPOffsetPct() decimal.Decimal    { return s.tpOffsetPct }
func (s FrozenSnapshot) PositionSize() decimal.Decimal   { return s.positionSize }
func (s FrozenSnapshot) Expiration() time.Time           { return s.expiration }
func (s FrozenSnapshot) CreatedAt() time.Time            { return s.createdAt }

// StopLossAt computes SL from the actual fill price.
func (s FrozenSnapshot) StopLossAt(fillPrice decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(decimal.NewFromInt(1).Add(s.slOffsetPct))
}

// TakeProfitAt computes TP from the actual fill price.
func (s FrozenSnapshot) TakeProfitAt(fillPrice decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(decimal.NewFromInt(1).Add(s.tpOffsetPct))
}

// EstimatedLossUSD is |entry-SL| x size against the reference price, used by
// the daily-loss guardrail before any fill exists.
func (s FrozenSnapshot) EstimatedLossUSD() decimal.Decimal {
	sl := s.StopLossAt(s.referencePrice)
	return s.referencePrice.Sub(sl).Abs().Mul(s.positionSize)
}
