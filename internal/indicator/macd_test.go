package indicator

import (
	"math"
	"testing"
)

// emaSeries recomputes an SMA-seeded EMA over the full history.
// Entries before the seed are NaN.
func emaSeries(vals []float64, period int) []float64 {
	out := make([]float64, len(vals))
	k := 2.0 / float64(period+1)
	var sum float64
	count := 0
	for i, v := range vals {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		count++
		switch {
		case count < period:
			sum += v
			out[i] = math.NaN()
		case count == period:
			sum += v
			out[i] = sum / float64(period)
		default:
			out[i] = v*k + out[i-1]*(1-k)
		}
	}
	return out
}

func wave(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%4)
	}
	return prices
}

func TestMACD_MatchesFullRecompute(t *testing.T) {
	const fast, slow, sig = 3, 6, 3
	prices := wave(80)

	fastS := emaSeries(prices, fast)
	slowS := emaSeries(prices, slow)
	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fastS[i] - slowS[i]
	}
	signal := emaSeries(line, sig)

	m := NewMACD(fast, slow, sig)
	crosses := 0
	for i, p := range prices {
		m.Update(p)

		wantReady := i+1 >= slow+sig-1
		if m.Ready() != wantReady {
			t.Fatalf("bar %d: Ready=%v, want %v", i, m.Ready(), wantReady)
		}
		if m.CrossReady() != (i+1 >= slow+sig) {
			t.Fatalf("bar %d: CrossReady=%v", i, m.CrossReady())
		}
		if !m.Ready() {
			continue
		}
		if math.Abs(m.Value()-line[i]) > 1e-9 || math.Abs(m.Signal()-signal[i]) > 1e-9 {
			t.Fatalf("bar %d: got line=%v signal=%v, want %v %v", i, m.Value(), m.Signal(), line[i], signal[i])
		}
		if !m.CrossReady() {
			continue
		}
		wantUp := line[i-1] <= signal[i-1] && line[i] > signal[i]
		wantDown := line[i-1] >= signal[i-1] && line[i] < signal[i]
		snap := crossSnapshot(m)
		if snap.BullishCross() != wantUp || snap.BearishCross() != wantDown {
			t.Fatalf("bar %d: crosses up=%v down=%v, want %v %v", i, snap.BullishCross(), snap.BearishCross(), wantUp, wantDown)
		}
		if wantUp || wantDown {
			crosses++
		}
	}
	if crosses == 0 {
		t.Fatal("test series produced no crossovers")
	}
}

func TestMACD_TouchIsNotCross(t *testing.T) {
	m := NewMACD(3, 7, 3)
	// k=0.5 and k=0.25 keep the EMAs exact, so line == signal == 0 throughout
	for i := 0; i < 20; i++ {
		m.Update(50)
		if !m.CrossReady() {
			continue
		}
		if snap := crossSnapshot(m); snap.BullishCross() || snap.BearishCross() {
			t.Fatalf("bar %d: flat series reported a crossover", i)
		}
	}
}

func crossSnapshot(m *MACD) Snapshot {
	prevLine, prevSignal := m.Prev()
	return Snapshot{MACD: m.Value(), MACDSignal: m.Signal(), PrevMACD: prevLine, PrevMACDSignal: prevSignal}
}
