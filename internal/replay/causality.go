package replay

import (
	"context"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// Violation is a bar whose signal changed when later bars were withheld.
type Violation struct {
	Instrument string
	Index      int // position within the instrument's bars
	TS         time.Time
	Full       model.Signal
	Prefix     model.Signal
}

// VerifyCausality checks that no signal depends on future bars: for every
// bar that produced a non-hold signal, a fresh engine is run on the bars up
// to and including it and must emit the same signal. It returns the
// violations and the number of signals checked.
func VerifyCausality(ctx context.Context, cfg strategy.Config, bars []model.Bar) ([]Violation, int, error) {
	var order []string
	series := make(map[string][]model.Bar)
	for _, b := range bars {
		if _, ok := series[b.Instrument]; !ok {
			order = append(order, b.Instrument)
		}
		series[b.Instrument] = append(series[b.Instrument], b)
	}

	var violations []Violation
	checked := 0
	for _, inst := range order {
		v, n, err := verifySeries(ctx, cfg, inst, series[inst])
		checked += n
		if err != nil {
			return violations, checked, err
		}
		violations = append(violations, v...)
	}
	return violations, checked, nil
}

func verifySeries(ctx context.Context, cfg strategy.Config, inst string, bars []model.Bar) ([]Violation, int, error) {
	full, err := strategy.NewEngine(inst, cfg)
	if err != nil {
		return nil, 0, err
	}
	signals := make([]model.Signal, len(bars))
	for i, b := range bars {
		signals[i] = full.Process(b)
	}

	var violations []Violation
	checked := 0
	for i, sig := range signals {
		if sig == model.SignalHold {
			continue
		}
		if err := ctx.Err(); err != nil {
			return violations, checked, err
		}
		prefix, err := strategy.NewEngine(inst, cfg)
		if err != nil {
			return violations, checked, err
		}
		var got model.Signal
		for _, b := range bars[:i+1] {
			got = prefix.Process(b)
		}
		checked++
		if got != sig {
			violations = append(violations, Violation{
				Instrument: inst,
				Index:      i,
				TS:         bars[i].TS,
				Full:       sig,
				Prefix:     got,
			})
		}
	}
	return violations, checked, nil
}
