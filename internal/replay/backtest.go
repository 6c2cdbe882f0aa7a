package replay

import (
	"context"
	"fmt"
	"io"
	"sort"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// Summary counts what a backtest produced. No P&L is computed.
type Summary struct {
	Bars         int
	Rejected     int
	WarmupHolds  int
	LongEntries  int
	ShortEntries int
	Reversals    int
	Exits        map[model.Reason]int
	// Final holds the position of every instrument after the last bar.
	Final map[string]model.PositionState
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{
		Exits: make(map[model.Reason]int),
		Final: make(map[string]model.PositionState),
	}
}

// Trades is the number of positions opened, counting a reversal as one.
func (s *Summary) Trades() int { return s.LongEntries + s.ShortEntries + s.Reversals }

// TotalExits sums exits across reasons.
func (s *Summary) TotalExits() int {
	n := 0
	for _, c := range s.Exits {
		n += c
	}
	return n
}

// Add folds one event into the summary.
func (s *Summary) Add(ev strategy.Event) {
	s.Bars++
	if ev.Rejected != "" {
		s.Rejected++
		return
	}
	if ev.Warmup() {
		s.WarmupHolds++
	}
	switch ev.Transition {
	case model.TransitionEntry:
		if ev.State.Side == model.Long {
			s.LongEntries++
		} else {
			s.ShortEntries++
		}
	case model.TransitionReversal:
		s.Reversals++
	case model.TransitionExit:
		s.Exits[ev.Reason]++
	}
	s.Final[ev.Instrument] = ev.State
}

// WriteTo prints the summary as a small report.
func (s *Summary) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	fmt.Fprintln(cw, "╔══════════════════════════════════════╗")
	fmt.Fprintln(cw, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintln(cw, "╠══════════════════════════════════════╣")
	fmt.Fprintf(cw, "║  Bars processed:    %-16d ║\n", s.Bars)
	fmt.Fprintf(cw, "║  Rejected bars:     %-16d ║\n", s.Rejected)
	fmt.Fprintf(cw, "║  Warm-up holds:     %-16d ║\n", s.WarmupHolds)
	fmt.Fprintf(cw, "║  Trades:            %-16d ║\n", s.Trades())
	fmt.Fprintf(cw, "║    long entries:    %-16d ║\n", s.LongEntries)
	fmt.Fprintf(cw, "║    short entries:   %-16d ║\n", s.ShortEntries)
	fmt.Fprintf(cw, "║    reversals:       %-16d ║\n", s.Reversals)
	fmt.Fprintf(cw, "║  Exits:             %-16d ║\n", s.TotalExits())

	reasons := make([]string, 0, len(s.Exits))
	for r := range s.Exits {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(cw, "║    %-16s %-16d ║\n", r+":", s.Exits[model.Reason(r)])
	}
	fmt.Fprintln(cw, "╚══════════════════════════════════════╝")
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Backtest runs bars through a fresh router and summarises the events.
// sink, when non-nil, receives every event in order.
func Backtest(ctx context.Context, cfg strategy.Config, bars []model.Bar, sink func(strategy.Event)) (*Summary, error) {
	router, err := strategy.NewRouter(cfg, 0)
	if err != nil {
		return nil, err
	}
	sum := NewSummary()
	for i, b := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
		}
		ev, err := router.Process(b)
		if err != nil {
			return sum, fmt.Errorf("bar %d: %w", i, err)
		}
		sum.Add(ev)
		if sink != nil {
			sink(ev)
		}
	}
	return sum, nil
}
