package replay

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"barsignal/internal/model"
)

// ErrNoBars is returned when a CSV source holds no data rows.
var ErrNoBars = errors.New("no bars in csv")

var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// columns maps OHLCV fields to record indexes.
type columns struct{ ts, open, high, low, close, volume int }

var positional = columns{0, 1, 2, 3, 4, 5}

// headerColumns recognises a header row. ok is false when rec is data.
func headerColumns(rec []string) (columns, bool) {
	c := columns{-1, -1, -1, -1, -1, -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "timestamp", "timestamp_ms", "time", "date", "datetime", "ts":
			c.ts = i
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close":
			c.close = i
		case "volume", "vol":
			c.volume = i
		}
	}
	if c.ts < 0 || c.open < 0 || c.high < 0 || c.low < 0 || c.close < 0 {
		return positional, false
	}
	return c, true
}

// LoadCSV reads OHLCV rows for one instrument. The first row may be a
// header naming the columns; otherwise columns are ts,open,high,low,close,volume.
// Rows keep file order so that ordering problems surface in the engine.
func LoadCSV(r io.Reader, instrument string) ([]model.Bar, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var (
		bars []model.Bar
		cols = positional
		line = 0
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if line == 1 {
			if c, ok := headerColumns(rec); ok {
				cols = c
				continue
			}
		}
		b, err := parseRow(rec, cols, instrument)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	return bars, nil
}

// ReadCSVFile opens path and loads it with LoadCSV.
func ReadCSVFile(path, instrument string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, instrument)
}

func parseRow(rec []string, c columns, instrument string) (model.Bar, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ts, err := ParseTimestamp(field(c.ts))
	if err != nil {
		return model.Bar{}, err
	}
	b := model.Bar{Instrument: instrument, TS: ts}
	for _, f := range []struct {
		name string
		idx  int
		dst  *float64
	}{
		{"open", c.open, &b.Open},
		{"high", c.high, &b.High},
		{"low", c.low, &b.Low},
		{"close", c.close, &b.Close},
	} {
		v, err := strconv.ParseFloat(field(f.idx), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	if s := field(c.volume); s != "" {
		if b.Volume, err = strconv.ParseFloat(s, 64); err != nil {
			return model.Bar{}, fmt.Errorf("volume: %w", err)
		}
	}
	return b, nil
}

// ParseTimestamp accepts unix epochs (seconds, milliseconds, microseconds
// or nanoseconds, chosen by magnitude) and common date layouts, read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case n >= 1e17:
			return time.Unix(0, n).UTC(), nil
		case n >= 1e14:
			return time.UnixMicro(n).UTC(), nil
		case n >= 1e11:
			return time.UnixMilli(n).UTC(), nil
		default:
			return time.Unix(n, 0).UTC(), nil
		}
	}
	for _, layout := range tsLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
