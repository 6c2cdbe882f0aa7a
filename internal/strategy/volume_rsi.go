package strategy

import (
	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// VolumeRSI enters on a volume spike in the direction of the candle,
// optionally confirmed by RSI. An opposite confirmed spike reverses the
// position on the same bar.
type VolumeRSI struct {
	k          float64
	longRSI    float64
	shortRSI   float64
	limit      int
	volumeOnly bool
}

// NewVolumeRSI creates the volume_rsi rule set.
func NewVolumeRSI(cfg Config) *VolumeRSI {
	return &VolumeRSI{
		k:          cfg.VolumeSpikeMultiplier,
		longRSI:    cfg.RSIEntryThresholdLong,
		shortRSI:   cfg.RSIEntryThresholdShort,
		limit:      cfg.NumWrongLimit,
		volumeOnly: cfg.VolumeOnly,
	}
}

func (r *VolumeRSI) Name() string { return RulesVolumeRSI }

func (r *VolumeRSI) Needs() indicator.Needs {
	n := indicator.NeedATR | indicator.NeedVolume
	if !r.volumeOnly {
		n |= indicator.NeedRSI
	}
	return n
}

// wants reports whether the bar confirms a move towards side.
func (r *VolumeRSI) wants(side model.Side, in Inputs) bool {
	switch side {
	case model.Long:
		return in.Bar.Green() && (r.volumeOnly || in.Ind.RSI >= r.longRSI)
	case model.Short:
		return in.Bar.Red() && (r.volumeOnly || in.Ind.RSI <= r.shortRSI)
	}
	return false
}

func (r *VolumeRSI) Decide(in Inputs) Decision {
	spike := VolumeSpike(in.Bar, in.Ind, r.k)

	if in.Side == model.Flat {
		if !spike {
			return hold
		}
		for _, side := range []model.Side{model.Long, model.Short} {
			if r.wants(side, in) {
				return enter(side)
			}
		}
		return hold
	}

	if spike && r.wants(in.Side.Opposite(), in) {
		return Decision{ActionReverse, model.ReasonReversal}
	}
	d, _ := streakOrStop(in, r.limit, true)
	return d
}
