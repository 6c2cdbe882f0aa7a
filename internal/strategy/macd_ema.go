package strategy

import (
	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// MACDEMA trades MACD crossovers in the direction of the EMA trend.
// It never reverses on a single bar; an exit is always followed by at least
// one flat bar.
type MACDEMA struct {
	limit int
}

// NewMACDEMA creates the macd_ema rule set.
func NewMACDEMA(cfg Config) *MACDEMA {
	return &MACDEMA{limit: cfg.NumWrongLimit}
}

func (r *MACDEMA) Name() string { return RulesMACDEMA }

func (r *MACDEMA) Needs() indicator.Needs {
	return indicator.NeedATR | indicator.NeedEMA | indicator.NeedMACD
}

func (r *MACDEMA) Decide(in Inputs) Decision {
	bar, ind := in.Bar, in.Ind

	switch in.Side {
	case model.Flat:
		if bar.Close > ind.EMA && ind.BullishCross() && bar.Green() {
			return enter(model.Long)
		}
		if bar.Close < ind.EMA && ind.BearishCross() && bar.Red() {
			return enter(model.Short)
		}
		return hold

	case model.Long:
		if bar.Close < ind.EMA {
			return Decision{ActionExit, model.ReasonTrendLost}
		}
		if ind.BearishCross() {
			return Decision{ActionExit, model.ReasonMACDCross}
		}

	case model.Short:
		if bar.Close > ind.EMA {
			return Decision{ActionExit, model.ReasonTrendLost}
		}
		if ind.BullishCross() {
			return Decision{ActionExit, model.ReasonMACDCross}
		}
	}

	d, _ := streakOrStop(in, r.limit, false)
	return d
}
