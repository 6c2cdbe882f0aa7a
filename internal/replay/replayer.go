// Package replay feeds historical bars through the signal engine for
// backtests and lookahead checks.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"barsignal/internal/model"
	sqlitestore "barsignal/internal/store/sqlite"
)

// Replayer emits a fixed set of historical bars at a configurable speed.
type Replayer struct {
	bars []model.Bar
}

// New creates a Replayer over bars, which are emitted in slice order.
func New(bars []model.Bar) *Replayer {
	return &Replayer{bars: bars}
}

// FromSQLite loads bars for the given instruments (all when empty) from the
// bars table, interleaved by timestamp.
func FromSQLite(reader *sqlitestore.Reader, instruments []string, after time.Time) (*Replayer, error) {
	if len(instruments) == 0 {
		var err error
		if instruments, err = reader.Instruments(); err != nil {
			return nil, err
		}
	}
	var all []model.Bar
	for _, inst := range instruments {
		bars, err := reader.ReadBars(inst, after)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return New(all), nil
}

// Bars returns the bars the replayer emits.
func (r *Replayer) Bars() []model.Bar { return r.bars }

// Run emits every bar into outCh. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, speed float64, outCh chan<- model.Bar) error {
	if len(r.bars) == 0 {
		log.Println("[replay] no bars to replay")
		return nil
	}
	log.Printf("[replay] replaying %d bars, speed=%.1fx", len(r.bars), speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range r.bars {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return ctx.Err()
		case outCh <- b:
		}
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return nil
}
