package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize      = 100
	defaultFlushDelay     = 200 * time.Millisecond
	defaultCheckpointKeep = 5
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath    string // path to SQLite database file, e.g. "data/barsignal.db"
	RunID     string // tags every journal row written by this writer
	BatchSize int
	// CheckpointKeep is how many checkpoints per instrument survive pruning.
	CheckpointKeep int
	// ArchiveBars also stores every accepted journaled bar in the bars table.
	ArchiveBars bool
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db        *sql.DB
	runID     string
	batchSize int
	keep      int
	archive   bool

	// OnCommit is called after each journal batch commits (optional).
	OnCommit func(rows int, dur time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// RunID returns the journal run identifier.
func (w *Writer) RunID() string { return w.runID }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{db: db, runID: cfg.RunID, batchSize: cfg.BatchSize, keep: cfg.CheckpointKeep, archive: cfg.ArchiveBars}
	if w.runID == "" {
		w.runID = time.Now().UTC().Format("20060102T150405Z")
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.keep <= 0 {
		w.keep = defaultCheckpointKeep
	}

	log.Printf("[sqlite] opened database at %s (run %s)", cfg.DBPath, w.runID)
	return w, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id         TEXT    NOT NULL,
			instrument     TEXT    NOT NULL,
			seq            INTEGER NOT NULL,
			ts             INTEGER NOT NULL,
			open           REAL,
			high           REAL,
			low            REAL,
			close          REAL,
			volume         REAL,
			ready          INTEGER NOT NULL,
			atr            REAL,
			rsi            REAL,
			ema            REAL,
			sma            REAL,
			macd           REAL,
			macd_signal    REAL,
			volume_mean    REAL,
			volume_std     REAL,
			signal         INTEGER NOT NULL,
			transition     TEXT    NOT NULL DEFAULT '',
			reason         TEXT    NOT NULL DEFAULT '',
			side_before    INTEGER NOT NULL,
			side           INTEGER NOT NULL,
			entry_price    REAL,
			trailing_stop  REAL,
			adverse_closes INTEGER,
			rejected       TEXT    NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS events_run ON events (run_id, instrument, id);

		CREATE TABLE IF NOT EXISTS engine_checkpoints (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS engine_checkpoints_inst ON engine_checkpoints (instrument, id);
	`)
	return err
}

// Run reads events from eventCh and journals them in batched transactions.
// Flushes every BatchSize events OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or eventCh is closed.
func (w *Writer) Run(ctx context.Context, eventCh <-chan strategy.Event) {
	batch := make([]strategy.Event, 0, w.batchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.WriteEvents(batch); err != nil {
			log.Printf("[sqlite] journal insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteEvents journals events in a single transaction.
func (w *Writer) WriteEvents(events []strategy.Event) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO events (
			run_id, instrument, seq, ts, open, high, low, close, volume,
			ready, atr, rsi, ema, sma, macd, macd_signal, volume_mean, volume_std,
			signal, transition, reason, side_before, side, entry_price, trailing_stop, adverse_closes,
			rejected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	var barStmt *sql.Stmt
	if w.archive {
		barStmt, err = tx.Prepare(`
			INSERT OR IGNORE INTO bars (instrument, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer barStmt.Close()
	}

	for _, ev := range events {
		b, ind, st := ev.Bar, ev.Indicators, ev.State
		_, err := stmt.Exec(
			w.runID, ev.Instrument, ev.Seq, b.TS.UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume,
			ind.Ready, ind.ATR, ind.RSI, ind.EMA, ind.SMA, ind.MACD, ind.MACDSignal, ind.VolumeMean, ind.VolumeStd,
			int(ev.Signal), string(ev.Transition), string(ev.Reason), int(ev.From), int(st.Side),
			st.EntryPrice, st.TrailingStop, st.AdverseCloses,
			ev.Rejected,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
		if barStmt != nil && ev.Rejected == "" {
			if _, err := barStmt.Exec(ev.Instrument, b.TS.UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}

// InsertBars stores bars, replacing any existing bar at the same instrument and ts.
func (w *Writer) InsertBars(bars []model.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (instrument, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(b.Instrument, b.TS.UnixNano(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveCheckpoints stores one checkpoint per engine and prunes each
// instrument down to the newest CheckpointKeep rows.
func (w *Writer) SaveCheckpoints(cps []strategy.Checkpoint) error {
	if len(cps) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, cp := range cps {
		data, err := json.Marshal(cp)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal checkpoint %s: %w", cp.Instrument, err)
		}
		if _, err := tx.Exec(`INSERT INTO engine_checkpoints (instrument, data, created_at) VALUES (?, ?, ?)`,
			cp.Instrument, string(data), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert checkpoint: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM engine_checkpoints
			WHERE instrument = ? AND id NOT IN (
				SELECT id FROM engine_checkpoints WHERE instrument = ? ORDER BY id DESC LIMIT ?
			)`, cp.Instrument, cp.Instrument, w.keep); err != nil {
			log.Printf("[sqlite] prune checkpoints warning: %v", err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
