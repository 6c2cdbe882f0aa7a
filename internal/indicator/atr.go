package indicator

import (
	"math"

	"barsignal/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// The first bar only records its close; true range starts with the second
// bar, so ATR is ready after period+1 bars.
type ATR struct {
	smma      *SMMA
	prevClose float64
	seen      bool
	lastTR    float64
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR" }

// Update feeds the next bar.
func (a *ATR) Update(bar model.Bar) {
	if !a.seen {
		a.prevClose = bar.Close
		a.seen = true
		return
	}
	a.lastTR = TrueRange(bar.High, bar.Low, a.prevClose)
	a.prevClose = bar.Close
	a.smma.Update(a.lastTR)
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }


// State serializes the ATR for checkpoint persistence.
func (a *ATR) State() State {
	return State{
		Type:      "ATR",
		Period:    a.smma.period,
		PrevClose: a.prevClose,
		Seen:      a.seen,
		Current:   a.lastTR,
		Parts:     []State{a.smma.State()},
	}
}

// Restore loads ATR state from a checkpoint.
func (a *ATR) Restore(s State) error {
	if err := s.expect("ATR"); err != nil {
		return err
	}
	if len(s.Parts) != 1 {
		return errBadParts("ATR", 1, len(s.Parts))
	}
	a.prevClose = s.PrevClose
	a.seen = s.Seen
	a.lastTR = s.Current
	return a.smma.Restore(s.Parts[0])
}
