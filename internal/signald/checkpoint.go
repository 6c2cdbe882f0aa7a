package signald

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// barArchive reads archived bars newer than a timestamp, oldest first.
type barArchive interface {
	ReadBars(instrument string, after time.Time) ([]model.Bar, error)
}

// mergeCheckpoints keeps one checkpoint per instrument: the one that has
// seen the latest bar, then the most recently saved.
func mergeCheckpoints(sets ...[]strategy.Checkpoint) []strategy.Checkpoint {
	best := make(map[string]strategy.Checkpoint)
	for _, set := range sets {
		for _, cp := range set {
			cur, ok := best[cp.Instrument]
			if !ok || cp.LastTS.After(cur.LastTS) ||
				(cp.LastTS.Equal(cur.LastTS) && cp.SavedAt.After(cur.SavedAt)) {
				best[cp.Instrument] = cp
			}
		}
	}
	out := make([]strategy.Checkpoint, 0, len(best))
	for _, cp := range best {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// restore loads checkpoints from Redis and SQLite and installs the newest
// per instrument into the router.
func (svc *Service) restore(ctx context.Context) error {
	var fromRedis, fromSQLite []strategy.Checkpoint
	if svc.consumer != nil {
		cps, err := svc.consumer.ReadCheckpoints(ctx, svc.cfg.Instruments)
		if err != nil {
			log.Printf("[signald] redis checkpoint read error: %v", err)
		}
		fromRedis = cps
	}
	if svc.sqlReader != nil {
		cps, err := svc.sqlReader.ReadLatestCheckpoints()
		if err != nil {
			log.Printf("[signald] sqlite checkpoint read error: %v", err)
		}
		fromSQLite = cps
	}

	cps := mergeCheckpoints(fromRedis, fromSQLite)
	if len(cps) == 0 {
		log.Println("[signald] no checkpoints found, engines start cold")
		return nil
	}
	n, err := svc.router.Restore(cps)
	if err != nil {
		return err
	}
	log.Printf("[signald] restored %d/%d engines from checkpoints", n, len(cps))

	if svc.sqlReader == nil {
		return nil
	}
	replayed, err := catchUp(ctx, svc.router, svc.sqlReader)
	if err != nil {
		return err
	}
	if replayed > 0 {
		log.Printf("[signald] replayed %d archived bars newer than the checkpoints", replayed)
	}
	return nil
}

// catchUp feeds every restored engine the archived bars it has not seen.
// Bars acknowledged on the stream after the last checkpoint exist only in
// the archive. The resulting events are not published.
func catchUp(ctx context.Context, router *strategy.Router, archive barArchive) (int, error) {
	total := 0
	for _, cp := range router.Checkpoints() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		bars, err := archive.ReadBars(cp.Instrument, cp.LastTS)
		if err != nil {
			return total, fmt.Errorf("read archived bars %s: %w", cp.Instrument, err)
		}
		for _, b := range bars {
			if _, err := router.Process(b); err != nil {
				return total, err
			}
		}
		total += len(bars)
	}
	return total, nil
}

// checkpoint saves every engine to SQLite and Redis.
func (svc *Service) checkpoint(ctx context.Context) {
	cps := svc.router.Checkpoints()
	if len(cps) == 0 {
		return
	}

	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveCheckpoints(cps); err != nil {
			log.Printf("[signald] sqlite checkpoint error: %v", err)
			svc.prom.CheckpointErrors.WithLabelValues("sqlite").Inc()
		} else {
			svc.prom.CheckpointsTotal.WithLabelValues("sqlite").Add(float64(len(cps)))
		}
	}
	if svc.publisher != nil {
		if err := svc.publisher.SaveCheckpoints(ctx, cps); err != nil {
			log.Printf("[signald] redis checkpoint error: %v", err)
			svc.prom.CheckpointErrors.WithLabelValues("redis").Inc()
		} else {
			svc.prom.CheckpointsTotal.WithLabelValues("redis").Add(float64(len(cps)))
		}
	}
}
