package strategy

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"barsignal/internal/model"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

// bar builds a candle whose high/low sit one point outside the body.
func bar(i int, open, close, volume float64) model.Bar {
	return model.Bar{
		Instrument: "NIFTY",
		TS:         t0.Add(time.Duration(i) * time.Minute),
		Open:       open,
		High:       math.Max(open, close) + 1,
		Low:        math.Min(open, close) - 1,
		Close:      close,
		Volume:     volume,
	}
}

// smallVolumeRSI uses short windows so warm-up ends on the third bar.
func smallVolumeRSI() Config {
	cfg := DefaultConfig(RulesVolumeRSI)
	cfg.ATRLength = 2
	cfg.RSIPeriod = 2
	cfg.VolumeLookback = 2
	return cfg
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine("NIFTY", cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// warmLong drives a volume_rsi engine into a long entered at 104 with
// ATR 3.5, so the stop starts at 97.
func warmLong(t *testing.T) *Engine {
	t.Helper()
	e := newEngine(t, smallVolumeRSI())
	if e.WarmupBars() != 3 {
		t.Fatalf("expected warm-up of 3 bars, got %d", e.WarmupBars())
	}
	warm := []model.Bar{
		bar(0, 100, 100, 100),
		bar(1, 100, 101, 110),
		bar(2, 101, 102, 100),
	}
	for i, b := range warm {
		ev := e.Step(b)
		if ev.Signal != model.SignalHold {
			t.Fatalf("bar %d: expected HOLD during warm-up, got %v", i, ev.Signal)
		}
		if i < 2 && !ev.Warmup() {
			t.Fatalf("bar %d: expected warm-up event", i)
		}
	}

	ev := e.Step(bar(3, 102, 104, 300))
	if ev.Signal != model.SignalLong || ev.Transition != model.TransitionEntry {
		t.Fatalf("expected long entry, got %v %q", ev.Signal, ev.Transition)
	}
	if !approx(ev.Indicators.ATR, 3.5) {
		t.Fatalf("expected ATR=3.5, got %v", ev.Indicators.ATR)
	}
	st := e.State()
	if st.Side != model.Long || st.EntryPrice != 104 || !approx(st.TrailingStop, 97) || st.AdverseCloses != 0 {
		t.Fatalf("unexpected state after entry: %+v", st)
	}
	if stop, ok := e.Stop(); !ok || !approx(stop, 97) {
		t.Fatalf("expected active stop 97, got %v %v", stop, ok)
	}
	return e
}

func TestEngine_LongEntrySetsStopFromATR(t *testing.T) {
	warmLong(t)
}

func TestEngine_FlatHasNoStop(t *testing.T) {
	e := newEngine(t, smallVolumeRSI())
	if _, ok := e.Stop(); ok {
		t.Fatal("flat engine must not report a stop")
	}
	if e.State().HasStop() {
		t.Fatal("flat state must not report a stop")
	}
}

func TestEngine_StopNeverLoosens(t *testing.T) {
	e := warmLong(t)

	// TR=3, ATR=3.25, candidate 103-6.5=96.5 stays below 97.
	ev := e.Step(bar(4, 104, 103, 100))
	if ev.Signal != model.SignalHold {
		t.Fatalf("expected HOLD, got %v", ev.Signal)
	}
	if !approx(ev.State.TrailingStop, 97) {
		t.Fatalf("stop loosened to %v", ev.State.TrailingStop)
	}
	if ev.State.AdverseCloses != 1 {
		t.Fatalf("expected streak 1, got %d", ev.State.AdverseCloses)
	}

	// TR=2, ATR=2.625, candidate 103-5.25=97.75 tightens.
	ev = e.Step(bar(5, 103, 103, 100))
	if !approx(ev.State.TrailingStop, 97.75) {
		t.Fatalf("expected stop 97.75, got %v", ev.State.TrailingStop)
	}
}

func TestEngine_AdverseStreakExit(t *testing.T) {
	e := warmLong(t)

	closes := []struct {
		open, close float64
		streak      int
	}{
		{104, 103, 1},
		{103, 103, 2},
	}
	for i, c := range closes {
		ev := e.Step(bar(4+i, c.open, c.close, 100))
		if ev.Signal != model.SignalHold || ev.State.AdverseCloses != c.streak {
			t.Fatalf("bar %d: expected HOLD with streak %d, got %v streak %d", 4+i, c.streak, ev.Signal, ev.State.AdverseCloses)
		}
	}

	ev := e.Step(bar(6, 103, 102, 100))
	if ev.Signal != model.SignalExit || ev.Transition != model.TransitionExit || ev.Reason != model.ReasonAdverseStreak {
		t.Fatalf("expected adverse_streak exit, got %v %q %q", ev.Signal, ev.Transition, ev.Reason)
	}
	if st := e.State(); st.Side != model.Flat || st.AdverseCloses != 0 {
		t.Fatalf("expected flat state with zero streak, got %+v", st)
	}
	if _, ok := e.Stop(); ok {
		t.Fatal("stop must be cleared on exit")
	}
}

func TestEngine_TiedClosesCountAsAdverse(t *testing.T) {
	e := warmLong(t)
	for i := 4; i < 6; i++ {
		if ev := e.Step(bar(i, 104, 104, 100)); ev.Signal != model.SignalHold {
			t.Fatalf("bar %d: expected HOLD, got %v", i, ev.Signal)
		}
	}
	ev := e.Step(bar(6, 104, 104, 100))
	if ev.Signal != model.SignalExit || ev.Reason != model.ReasonAdverseStreak {
		t.Fatalf("three unchanged closes should exit, got %v %q", ev.Signal, ev.Reason)
	}
}

func TestEngine_StreakResetsOnFavourableClose(t *testing.T) {
	e := warmLong(t)
	if ev := e.Step(bar(4, 104, 103, 100)); ev.State.AdverseCloses != 1 {
		t.Fatalf("expected streak 1, got %d", ev.State.AdverseCloses)
	}
	if ev := e.Step(bar(5, 103, 104, 100)); ev.State.AdverseCloses != 0 {
		t.Fatalf("expected streak reset, got %d", ev.State.AdverseCloses)
	}
}

func TestEngine_TrailingStopExit(t *testing.T) {
	e := warmLong(t)
	ev := e.Step(bar(4, 104, 96, 100))
	if ev.Signal != model.SignalExit || ev.Reason != model.ReasonTrailingStop {
		t.Fatalf("expected trailing_stop exit, got %v %q", ev.Signal, ev.Reason)
	}
	if ev.From != model.Long || ev.State.Side != model.Flat {
		t.Fatalf("expected long -> flat, got %v -> %v", ev.From, ev.State.Side)
	}
}

func TestEngine_ReversalIsAtomic(t *testing.T) {
	e := warmLong(t)

	// Red spike with RSI 27.3: flips straight to short.
	ev := e.Step(bar(4, 104, 100, 1000))
	if ev.Signal != model.SignalShort || ev.Transition != model.TransitionReversal || ev.Reason != model.ReasonReversal {
		t.Fatalf("expected reversal to short, got %v %q %q", ev.Signal, ev.Transition, ev.Reason)
	}
	if ev.Indicators.RSI > 50 {
		t.Fatalf("expected RSI <= 50, got %v", ev.Indicators.RSI)
	}
	st := e.State()
	if st.Side != model.Short || st.EntryPrice != 100 || st.AdverseCloses != 0 {
		t.Fatalf("unexpected state after reversal: %+v", st)
	}
	// ATR=(3.5+6)/2=4.75
	if !approx(st.TrailingStop, 109.5) || !approx(st.TrailingStop, 100+2*ev.Indicators.ATR) {
		t.Fatalf("expected short stop 109.5, got %v", st.TrailingStop)
	}
}

func TestEngine_RejectsBadBars(t *testing.T) {
	clean := newEngine(t, smallVolumeRSI())
	dirty := newEngine(t, smallVolumeRSI())

	nan := bar(2, 101, 102, 100)
	nan.Close = math.NaN()
	inverted := bar(2, 101, 102, 100)
	inverted.High, inverted.Low = inverted.Low, inverted.High
	negVol := bar(2, 101, 102, -1)

	for i := 0; i < 2; i++ {
		clean.Step(bar(i, 100+float64(i), 101+float64(i), 100))
		dirty.Step(bar(i, 100+float64(i), 101+float64(i), 100))
	}

	bad := []struct {
		name string
		bar  model.Bar
		want error
	}{
		{"duplicate ts", bar(1, 101, 102, 100), model.ErrOutOfOrder},
		{"earlier ts", bar(0, 101, 102, 100), model.ErrOutOfOrder},
		{"nan close", nan, model.ErrMalformedBar},
		{"high below low", inverted, model.ErrMalformedBar},
		{"negative volume", negVol, model.ErrMalformedBar},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			ev := dirty.Step(tc.bar)
			if ev.Signal != model.SignalHold || ev.Rejected == "" {
				t.Fatalf("expected rejected HOLD, got %v %q", ev.Signal, ev.Rejected)
			}
			if err := dirty.check(tc.bar); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if dirty.Rejected() != uint64(len(bad)) {
		t.Fatalf("expected %d rejected, got %d", len(bad), dirty.Rejected())
	}

	for i := 2; i < 6; i++ {
		b := bar(i, 100+float64(i), 101+float64(i), 100+float64(10*i))
		a, d := clean.Step(b), dirty.Step(b)
		if a.Indicators != d.Indicators || a.State != d.State || a.Signal != d.Signal {
			t.Fatalf("bar %d: rejected bars changed engine state", i)
		}
	}
}

// randomBars is a seeded random walk with occasional volume bursts.
func randomBars(seed int64, n int) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, n)
	price := 1000.0
	for i := range bars {
		open := price
		closePx := open * (1 + rng.NormFloat64()*0.01)
		vol := 100 + rng.Float64()*50
		if rng.Intn(8) == 0 {
			vol *= 5
		}
		bars[i] = model.Bar{
			Instrument: "NIFTY",
			TS:         t0.Add(time.Duration(i) * time.Minute),
			Open:       open,
			High:       math.Max(open, closePx) * (1 + rng.Float64()*0.004),
			Low:        math.Min(open, closePx) * (1 - rng.Float64()*0.004),
			Close:      closePx,
			Volume:     vol,
		}
		price = closePx
	}
	return bars
}

func fastConfigs() []Config {
	a := DefaultConfig(RulesVolumeRSI)
	a.ATRLength, a.RSIPeriod, a.VolumeLookback = 5, 5, 5

	av := a
	av.VolumeOnly = true

	b := DefaultConfig(RulesMACDEMA)
	b.ATRLength, b.EMAPeriod = 5, 10
	b.MACDFast, b.MACDSlow, b.MACDSignal = 2, 5, 2

	c := DefaultConfig(RulesTrendRSI)
	c.ATRLength, c.RSIPeriod, c.SMAPeriod = 5, 3, 10

	return []Config{a, av, b, c}
}

func TestEngine_Invariants(t *testing.T) {
	bars := randomBars(42, 3000)
	for _, cfg := range fastConfigs() {
		cfg := cfg
		name := cfg.Rules
		if cfg.VolumeOnly {
			name += "/volume_only"
		}
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, cfg)
			entries := 0
			prevStop := 0.0
			for i, b := range bars {
				ev := e.Step(b)
				st := ev.State

				switch ev.Signal {
				case model.SignalHold, model.SignalLong, model.SignalShort, model.SignalExit:
				default:
					t.Fatalf("bar %d: invalid signal %v", i, ev.Signal)
				}
				if i < e.WarmupBars()-1 && ev.Signal != model.SignalHold {
					t.Fatalf("bar %d: signal %v before warm-up", i, ev.Signal)
				}
				if _, ok := e.Stop(); ok != st.Open() {
					t.Fatalf("bar %d: stop defined=%v but side=%v", i, ok, st.Side)
				}

				switch ev.Transition {
				case model.TransitionEntry:
					entries++
					if ev.From != model.Flat {
						t.Fatalf("bar %d: entry while %v", i, ev.From)
					}
					if st.AdverseCloses != 0 {
						t.Fatalf("bar %d: streak not reset on entry", i)
					}
				case model.TransitionReversal:
					if cfg.Rules != RulesVolumeRSI {
						t.Fatalf("bar %d: %s must not reverse", i, cfg.Rules)
					}
					if st.Side != ev.From.Opposite() || ev.Signal != model.Signal(st.Side) {
						t.Fatalf("bar %d: bad reversal %v -> %v signal %v", i, ev.From, st.Side, ev.Signal)
					}
					if st.AdverseCloses != 0 {
						t.Fatalf("bar %d: streak not reset on reversal", i)
					}
				case model.TransitionExit:
					if ev.From == model.Flat || st.Side != model.Flat || ev.Signal != model.SignalExit {
						t.Fatalf("bar %d: bad exit %v -> %v", i, ev.From, st.Side)
					}
				case model.TransitionNone:
					if st.Side != ev.From {
						t.Fatalf("bar %d: side changed without transition", i)
					}
					if st.Side == model.Long && st.TrailingStop < prevStop {
						t.Fatalf("bar %d: long stop fell %v -> %v", i, prevStop, st.TrailingStop)
					}
					if st.Side == model.Short && st.TrailingStop > prevStop {
						t.Fatalf("bar %d: short stop rose %v -> %v", i, prevStop, st.TrailingStop)
					}
					if st.Open() && st.AdverseCloses >= cfg.NumWrongLimit {
						t.Fatalf("bar %d: streak %d reached limit without exit", i, st.AdverseCloses)
					}
				}
				prevStop = st.TrailingStop
			}
			if entries == 0 {
				t.Fatal("expected at least one entry over the sample")
			}
		})
	}
}

func TestEngine_CheckpointResumesIdentically(t *testing.T) {
	bars := randomBars(7, 2000)
	for _, cfg := range fastConfigs() {
		cfg := cfg
		t.Run(cfg.Rules, func(t *testing.T) {
			orig := newEngine(t, cfg)
			for _, b := range bars[:1000] {
				orig.Step(b)
			}

			data, err := json.Marshal(orig.Checkpoint())
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var cp Checkpoint
			if err := json.Unmarshal(data, &cp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			restored, err := RestoreEngine(cp)
			if err != nil {
				t.Fatalf("RestoreEngine: %v", err)
			}
			if restored.State() != orig.State() {
				t.Fatalf("state mismatch: %+v vs %+v", restored.State(), orig.State())
			}

			for i, b := range bars[1000:] {
				a, r := orig.Step(b), restored.Step(b)
				if a.Signal != r.Signal || a.Transition != r.Transition || a.Reason != r.Reason ||
					a.State != r.State || a.Indicators != r.Indicators || a.Seq != r.Seq {
					t.Fatalf("bar %d diverged after restore:\n orig %+v\n rest %+v", 1000+i, a, r)
				}
			}
		})
	}
}

func TestRestoreEngine_RejectsUnknownVersion(t *testing.T) {
	cp := newEngine(t, smallVolumeRSI()).Checkpoint()
	cp.Version = 99
	if _, err := RestoreEngine(cp); err == nil {
		t.Fatal("expected version error")
	}
}
