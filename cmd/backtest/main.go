// cmd/backtest replays historical bars from a CSV file or the SQLite bars
// table through the signal engine and prints a summary of the transitions.
//
// Usage:
//
//	go run ./cmd/backtest --csv=BTC_2019_2023_1d.csv --instrument=BTC --rules=volume_rsi --verify
//	go run ./cmd/backtest --db=data/barsignal.db --journal
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"barsignal/internal/config"
	"barsignal/internal/logger"
	"barsignal/internal/model"
	"barsignal/internal/replay"
	sqlitestore "barsignal/internal/store/sqlite"
	"barsignal/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	csvPath := flag.String("csv", "", "CSV file of OHLCV bars")
	instrument := flag.String("instrument", "", "Instrument name for CSV bars (default: file name); filter for --db")
	dbPath := flag.String("db", "", "SQLite database with a bars table")
	cfgPath := flag.String("config", "", "YAML config (strategy section is used)")
	rules := flag.String("rules", "", "Rule set override: volume_rsi, macd_ema, trend_rsi")
	volumeOnly := flag.Bool("volume-only", false, "Ignore RSI filters in volume_rsi")
	verify := flag.Bool("verify", false, "Re-run every signal on its prefix to detect lookahead")
	journal := flag.Bool("journal", false, "Write the per-bar journal to --journal-db")
	journalDB := flag.String("journal-db", "data/backtest.db", "SQLite file for the journal")
	importBars := flag.Bool("import", false, "Store CSV bars in --journal-db's bars table")
	verbose := flag.Bool("v", false, "Print every transition")
	flag.Parse()

	logger.Init("backtest", "warn")

	cfg, err := strategyConfig(*cfgPath, *rules, *volumeOnly)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}

	bars, err := loadBars(*csvPath, *dbPath, *instrument)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	log.Printf("[backtest] %d bars, rules=%s", len(bars), cfg.Rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var writer *sqlitestore.Writer
	if *journal || *importBars {
		writer, err = sqlitestore.New(sqlitestore.WriterConfig{
			DBPath: *journalDB,
			RunID:  "backtest-" + time.Now().UTC().Format("20060102T150405Z"),
		})
		if err != nil {
			log.Fatalf("[backtest] journal: %v", err)
		}
		defer writer.Close()
	}
	if *importBars {
		if err := writer.InsertBars(bars); err != nil {
			log.Fatalf("[backtest] import bars: %v", err)
		}
		log.Printf("[backtest] imported %d bars into %s", len(bars), *journalDB)
	}

	var (
		eventCh chan strategy.Event
		done    chan struct{}
	)
	if *journal {
		eventCh = make(chan strategy.Event, 1024)
		done = make(chan struct{})
		go func() {
			writer.Run(context.Background(), eventCh)
			close(done)
		}()
	}

	summary, err := replay.Backtest(ctx, cfg, bars, func(ev strategy.Event) {
		if *verbose && ev.Transition != model.TransitionNone {
			fmt.Printf("  [%s] %-10s %-8s %-14s close=%.4f stop=%.4f\n",
				ev.Bar.TS.Format(time.RFC3339), ev.Instrument, ev.Transition, ev.Reason, ev.Bar.Close, ev.State.TrailingStop)
		}
		if eventCh != nil {
			eventCh <- ev
		}
	})
	if eventCh != nil {
		close(eventCh)
		<-done
		log.Printf("[backtest] journal written to %s (run %s)", *journalDB, writer.RunID())
	}
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	fmt.Println()
	summary.WriteTo(os.Stdout)

	if *verify {
		violations, checked, err := replay.VerifyCausality(ctx, cfg, bars)
		if err != nil {
			log.Fatalf("[backtest] verify: %v", err)
		}
		for _, v := range violations {
			fmt.Printf("Lookahead bias detected: %s bar %d (%s) full=%s prefix=%s\n",
				v.Instrument, v.Index, v.TS.Format(time.RFC3339), v.Full, v.Prefix)
		}
		if len(violations) == 0 {
			fmt.Printf("No lookahead bias detected (%d signals checked).\n", checked)
		} else {
			os.Exit(1)
		}
	}
}

func strategyConfig(path, rules string, volumeOnly bool) (strategy.Config, error) {
	if rules != "" {
		os.Setenv("STRATEGY_RULES", rules)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return strategy.Config{}, err
	}
	if volumeOnly {
		cfg.Strategy.VolumeOnly = true
	}
	return cfg.Strategy, cfg.Strategy.Validate()
}

func loadBars(csvPath, dbPath, instrument string) ([]model.Bar, error) {
	switch {
	case csvPath != "":
		if instrument == "" {
			instrument = instrumentFromPath(csvPath)
		}
		return replay.ReadCSVFile(csvPath, instrument)
	case dbPath != "":
		reader, err := sqlitestore.NewReader(dbPath)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		var insts []string
		if instrument != "" {
			insts = []string{instrument}
		}
		rp, err := replay.FromSQLite(reader, insts, time.Time{})
		if err != nil {
			return nil, err
		}
		return rp.Bars(), nil
	default:
		return nil, errors.New("one of --csv or --db is required")
	}
}

func instrumentFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
