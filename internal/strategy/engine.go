package strategy

import (
	"fmt"
	"time"

	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// Event records everything the engine did with one bar.
type Event struct {
	Instrument string              `json:"instrument"`
	Seq        uint64              `json:"seq"`
	Bar        model.Bar           `json:"bar"`
	Indicators indicator.Snapshot  `json:"indicators"`
	Signal     model.Signal        `json:"signal"`
	Transition model.Transition    `json:"transition,omitempty"`
	Reason     model.Reason        `json:"reason,omitempty"`
	From       model.Side          `json:"from"`
	State      model.PositionState `json:"state"`

	// Rejected is set when the bar failed validation and was skipped.
	Rejected string `json:"rejected,omitempty"`
}

// Warmup reports whether the bar was held for lack of indicator history.
func (e Event) Warmup() bool { return e.Rejected == "" && !e.Indicators.Ready }

// Engine is the per-instrument position state machine.
// Not safe for concurrent use; give each instrument its own Engine.
type Engine struct {
	instrument string
	cfg        Config
	rules      RuleSet
	bank       *indicator.Bank
	stop       TrailingStop
	state      model.PositionState

	lastTS   time.Time
	seq      uint64
	rejected uint64
	last     Event
}

// NewEngine validates cfg and returns a flat engine for instrument.
func NewEngine(instrument string, cfg Config) (*Engine, error) {
	cfg.Rules = normalizeRules(cfg.Rules)
	rules, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	icfg := cfg.IndicatorConfig()
	icfg.Needs = rules.Needs()
	return &Engine{
		instrument: instrument,
		cfg:        cfg,
		rules:      rules,
		bank:       indicator.NewBank(icfg),
		stop:       NewTrailingStop(cfg.TrailingStopMultiplier),
	}, nil
}

// WarmupBars returns the number of valid bars needed before the first
// non-hold signal is possible.
func (e *Engine) WarmupBars() int { return e.bank.Config().WarmupBars() }

// State returns a copy of the position state.
func (e *Engine) State() model.PositionState { return e.state }

// Stop returns the trailing stop and whether a position is open.
func (e *Engine) Stop() (float64, bool) { return e.stop.Level() }

// Last returns the event produced by the most recent bar.
func (e *Engine) Last() Event { return e.last }

// Rejected returns how many bars failed validation.
func (e *Engine) Rejected() uint64 { return e.rejected }

// Process consumes one closed bar and returns the resulting signal.
func (e *Engine) Process(bar model.Bar) model.Signal {
	return e.Step(bar).Signal
}

// Step consumes one closed bar and returns the full event.
func (e *Engine) Step(bar model.Bar) Event {
	if bar.Instrument == "" {
		bar.Instrument = e.instrument
	}
	ev := Event{
		Instrument: e.instrument,
		Seq:        e.seq,
		Bar:        bar,
		Signal:     model.SignalHold,
		From:       e.state.Side,
	}

	if err := e.check(bar); err != nil {
		e.rejected++
		ev.Rejected = err.Error()
		ev.State = e.state
		e.last = ev
		return ev
	}
	e.seq++
	e.lastTS = bar.TS

	snap := e.bank.Update(bar)
	ev.Indicators = snap
	prev, hasPrev := e.bank.Previous()

	if e.state.Open() {
		if hasPrev && AdverseClose(e.state.Side, bar.Close, prev.Close) {
			e.state.AdverseCloses++
		} else {
			e.state.AdverseCloses = 0
		}
	}

	if snap.Ready && hasPrev {
		d := e.rules.Decide(Inputs{
			Bar:           bar,
			Prev:          prev,
			Ind:           snap,
			Side:          e.state.Side,
			AdverseCloses: e.state.AdverseCloses,
			Stop:          e.state.TrailingStop,
		})
		e.apply(&ev, d, bar.Close, snap.ATR)
	} else if e.state.Open() {
		e.state.TrailingStop = e.stop.Advance(bar.Close, snap.ATR)
	}

	e.state.LastClose = bar.Close
	ev.State = e.state
	e.last = ev
	return ev
}

func (e *Engine) check(bar model.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if !e.lastTS.IsZero() && !bar.TS.After(e.lastTS) {
		return fmt.Errorf("%w: %s not after %s", model.ErrOutOfOrder,
			bar.TS.Format(time.RFC3339Nano), e.lastTS.Format(time.RFC3339Nano))
	}
	return nil
}

func (e *Engine) apply(ev *Event, d Decision, close, atr float64) {
	side := e.state.Side
	switch {
	case d.Action == ActionEnterLong && side == model.Flat:
		e.open(model.Long, close, atr)
		ev.Signal, ev.Transition = model.SignalLong, model.TransitionEntry

	case d.Action == ActionEnterShort && side == model.Flat:
		e.open(model.Short, close, atr)
		ev.Signal, ev.Transition = model.SignalShort, model.TransitionEntry

	case d.Action == ActionReverse && side != model.Flat:
		next := side.Opposite()
		e.open(next, close, atr)
		ev.Signal, ev.Transition, ev.Reason = model.Signal(next), model.TransitionReversal, d.Reason

	case d.Action == ActionExit && side != model.Flat:
		e.stop.Clear()
		e.state = model.PositionState{Side: model.Flat}
		ev.Signal, ev.Transition, ev.Reason = model.SignalExit, model.TransitionExit, d.Reason

	case side != model.Flat:
		e.state.TrailingStop = e.stop.Advance(close, atr)
	}
}

func (e *Engine) open(side model.Side, close, atr float64) {
	e.state = model.PositionState{
		Side:         side,
		EntryPrice:   close,
		TrailingStop: e.stop.Open(side, close, atr),
	}
}
