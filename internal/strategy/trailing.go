package strategy

import "barsignal/internal/model"

// TrailingStop is an ATR-distance stop that only ever moves in the
// position's favour.
type TrailingStop struct {
	multiplier float64
	side       model.Side
	level      float64
}

// NewTrailingStop returns an inactive stop using distance ATR*multiplier.
func NewTrailingStop(multiplier float64) TrailingStop {
	return TrailingStop{multiplier: multiplier}
}

// Open initialises the stop for a new position entered at close.
func (t *TrailingStop) Open(side model.Side, close, atr float64) float64 {
	t.side = side
	t.level = t.candidate(close, atr)
	return t.level
}

// Advance ratchets the stop towards price. It never loosens.
func (t *TrailingStop) Advance(close, atr float64) float64 {
	c := t.candidate(close, atr)
	switch t.side {
	case model.Long:
		if c > t.level {
			t.level = c
		}
	case model.Short:
		if c < t.level {
			t.level = c
		}
	}
	return t.level
}

// Clear deactivates the stop.
func (t *TrailingStop) Clear() {
	t.side = model.Flat
	t.level = 0
}

// Level returns the current stop and whether one is active.
func (t TrailingStop) Level() (float64, bool) {
	return t.level, t.side != model.Flat
}

func (t TrailingStop) candidate(close, atr float64) float64 {
	d := atr * t.multiplier
	if t.side == model.Short {
		return close + d
	}
	return close - d
}
