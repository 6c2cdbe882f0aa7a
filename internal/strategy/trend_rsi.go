package strategy

import (
	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// TrendRSI enters with the SMA trend when RSI confirms momentum and leaves
// as soon as momentum fades or the trend breaks.
type TrendRSI struct {
	longRSI  float64
	shortRSI float64
	limit    int
}

// NewTrendRSI creates the trend_rsi rule set.
func NewTrendRSI(cfg Config) *TrendRSI {
	return &TrendRSI{
		longRSI:  cfg.RSIEntryThresholdLong,
		shortRSI: cfg.RSIEntryThresholdShort,
		limit:    cfg.NumWrongLimit,
	}
}

func (r *TrendRSI) Name() string { return RulesTrendRSI }

func (r *TrendRSI) Needs() indicator.Needs {
	return indicator.NeedATR | indicator.NeedSMA | indicator.NeedRSI
}

func (r *TrendRSI) Decide(in Inputs) Decision {
	bar, ind := in.Bar, in.Ind

	switch in.Side {
	case model.Flat:
		if bar.Close > ind.SMA && ind.RSI >= r.longRSI && bar.Green() {
			return enter(model.Long)
		}
		if bar.Close < ind.SMA && ind.RSI <= r.shortRSI && bar.Red() {
			return enter(model.Short)
		}
		return hold

	case model.Long:
		if ind.RSI < r.shortRSI {
			return Decision{ActionExit, model.ReasonRSIFade}
		}
		if bar.Close < ind.SMA {
			return Decision{ActionExit, model.ReasonTrendLost}
		}

	case model.Short:
		if ind.RSI > r.longRSI {
			return Decision{ActionExit, model.ReasonRSIFade}
		}
		if bar.Close > ind.SMA {
			return Decision{ActionExit, model.ReasonTrendLost}
		}
	}

	d, _ := streakOrStop(in, r.limit, true)
	return d
}
