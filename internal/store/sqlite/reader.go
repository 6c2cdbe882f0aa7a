package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"barsignal/internal/indicator"
	"barsignal/internal/model"
	"barsignal/internal/strategy"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backtests and checkpoint restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars for instrument with ts > after, oldest first.
// A zero after reads the whole table.
func (r *Reader) ReadBars(instrument string, after time.Time) ([]model.Bar, error) {
	afterNS := int64(math.MinInt64)
	if !after.IsZero() {
		afterNS = after.UnixNano()
	}
	rows, err := r.db.Query(`
		SELECT instrument, ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = ? AND ts > ?
		ORDER BY ts ASC
	`, instrument, afterNS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&b.Instrument, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(0, ts).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Instruments lists every instrument in the bars table.
func (r *Reader) Instruments() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT instrument FROM bars ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadLatestCheckpoints loads the newest checkpoint of every instrument.
func (r *Reader) ReadLatestCheckpoints() ([]strategy.Checkpoint, error) {
	rows, err := r.db.Query(`
		SELECT data FROM engine_checkpoints
		WHERE id IN (SELECT MAX(id) FROM engine_checkpoints GROUP BY instrument)
		ORDER BY instrument
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite read checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []strategy.Checkpoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan checkpoint: %w", err)
		}
		var cp strategy.Checkpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// ReadEvents loads the journal of one run for instrument in processing order.
func (r *Reader) ReadEvents(runID, instrument string) ([]strategy.Event, error) {
	rows, err := r.db.Query(`
		SELECT instrument, seq, ts, open, high, low, close, volume,
			ready, atr, rsi, ema, sma, macd, macd_signal, volume_mean, volume_std,
			signal, transition, reason, side_before, side, entry_price, trailing_stop, adverse_closes,
			rejected
		FROM events
		WHERE run_id = ? AND instrument = ?
		ORDER BY id ASC
	`, runID, instrument)
	if err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	defer rows.Close()

	var out []strategy.Event
	for rows.Next() {
		var (
			ev                 strategy.Event
			ind                indicator.Snapshot
			ts                 int64
			signal, from, side int
			transition, reason string
		)
		b := &ev.Bar
		if err := rows.Scan(&ev.Instrument, &ev.Seq, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&ind.Ready, &ind.ATR, &ind.RSI, &ind.EMA, &ind.SMA, &ind.MACD, &ind.MACDSignal, &ind.VolumeMean, &ind.VolumeStd,
			&signal, &transition, &reason, &from, &side, &ev.State.EntryPrice, &ev.State.TrailingStop, &ev.State.AdverseCloses,
			&ev.Rejected); err != nil {
			return nil, fmt.Errorf("sqlite scan events: %w", err)
		}
		b.Instrument = ev.Instrument
		b.TS = time.Unix(0, ts).UTC()
		ev.Indicators = ind
		ev.Signal = model.Signal(signal)
		ev.Transition = model.Transition(transition)
		ev.Reason = model.Reason(reason)
		ev.From = model.Side(from)
		ev.State.Side = model.Side(side)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
