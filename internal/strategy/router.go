package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"barsignal/internal/model"
)

// ErrNoInstrument is returned for bars that carry no instrument.
var ErrNoInstrument = errors.New("bar has no instrument")

// Router owns one Engine per instrument and routes bars to them.
// Engines are created lazily with the shared Config on the first bar of an
// instrument.
type Router struct {
	cfg Config

	mu      sync.Mutex
	engines map[string]*Engine

	eventCh chan Event
}

// NewRouter validates cfg and returns an empty router.
func NewRouter(cfg Config, eventBufferSize int) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		cfg:     cfg,
		engines: make(map[string]*Engine),
		eventCh: make(chan Event, eventBufferSize),
	}, nil
}

// Events returns the channel Run publishes every event on.
// It is closed when Run returns.
func (r *Router) Events() <-chan Event {
	return r.eventCh
}

// Process routes a single bar synchronously.
func (r *Router) Process(bar model.Bar) (Event, error) {
	if bar.Instrument == "" {
		return Event{}, ErrNoInstrument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[bar.Instrument]
	if !ok {
		var err error
		e, err = NewEngine(bar.Instrument, r.cfg)
		if err != nil {
			return Event{}, err
		}
		r.engines[bar.Instrument] = e
		slog.Info("engine created", "instrument", bar.Instrument, "rules", r.cfg.Rules, "warmup_bars", e.WarmupBars())
	}
	return e.Step(bar), nil
}

// Run consumes bars and publishes one event per bar.
// Blocks until ctx is cancelled or barCh is closed.
func (r *Router) Run(ctx context.Context, barCh <-chan model.Bar) {
	defer close(r.eventCh)
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			ev, err := r.Process(bar)
			if err != nil {
				slog.Warn("bar dropped", "error", err)
				continue
			}
			switch {
			case ev.Rejected != "":
				slog.Warn("bar rejected", "instrument", ev.Instrument, "ts", ev.Bar.TS, "reason", ev.Rejected)
			case ev.Transition != model.TransitionNone:
				slog.Info("position transition",
					"instrument", ev.Instrument,
					"transition", ev.Transition,
					"reason", ev.Reason,
					"signal", ev.Signal.String(),
					"close", ev.Bar.Close,
					"stop", ev.State.TrailingStop)
			}
			select {
			case r.eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Instruments returns the tracked instruments in sorted order.
func (r *Router) Instruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.engines))
	for k := range r.engines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// State returns the position state for instrument.
func (r *Router) State(instrument string) (model.PositionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[instrument]
	if !ok {
		return model.PositionState{}, false
	}
	return e.State(), true
}

// Checkpoints captures every engine.
func (r *Router) Checkpoints() []Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Checkpoint, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e.Checkpoint())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Restore installs engines rebuilt from checkpoints, replacing any existing
// engine for the same instrument. Checkpoints taken under a different
// configuration are skipped and the instrument warms up from scratch.
func (r *Router) Restore(cps []Checkpoint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := r.cfg
	want.Rules = normalizeRules(want.Rules)
	n := 0
	for _, cp := range cps {
		got := cp.Config
		got.Rules = normalizeRules(got.Rules)
		if got != want {
			slog.Warn("checkpoint skipped: config changed",
				"instrument", cp.Instrument, "checkpoint_rules", cp.Config.Rules, "rules", r.cfg.Rules)
			continue
		}
		e, err := RestoreEngine(cp)
		if err != nil {
			return n, err
		}
		r.engines[cp.Instrument] = e
		n++
	}
	return n, nil
}
