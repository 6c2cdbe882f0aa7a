package strategy

import (
	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// VolumeSpike reports volume > mean + k*std. A flat volume history
// (std == 0) never spikes.
func VolumeSpike(bar model.Bar, ind indicator.Snapshot, k float64) bool {
	return indicator.IsSpike(bar.Volume, ind.VolumeMean, ind.VolumeStd, k)
}

// AdverseClose reports whether close moved against side relative to the
// previous close. Unchanged closes count as adverse.
func AdverseClose(side model.Side, close, prevClose float64) bool {
	switch side {
	case model.Long:
		return close <= prevClose
	case model.Short:
		return close >= prevClose
	default:
		return false
	}
}

// StopHit reports whether close breached the trailing stop for side.
func StopHit(side model.Side, close, stop float64) bool {
	switch side {
	case model.Long:
		return close < stop
	case model.Short:
		return close > stop
	default:
		return false
	}
}

// streakOrStop is the exit pair shared by every variant, checked in the
// given order.
func streakOrStop(in Inputs, limit int, streakFirst bool) (Decision, bool) {
	streak := in.AdverseCloses >= limit
	stop := StopHit(in.Side, in.Bar.Close, in.Stop)
	if streakFirst {
		if streak {
			return Decision{ActionExit, model.ReasonAdverseStreak}, true
		}
		if stop {
			return Decision{ActionExit, model.ReasonTrailingStop}, true
		}
		return hold, false
	}
	if stop {
		return Decision{ActionExit, model.ReasonTrailingStop}, true
	}
	if streak {
		return Decision{ActionExit, model.ReasonAdverseStreak}, true
	}
	return hold, false
}

func enter(side model.Side) Decision {
	if side == model.Long {
		return Decision{Action: ActionEnterLong}
	}
	return Decision{Action: ActionEnterShort}
}
