package model

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// ErrOutOfOrder is reported when a bar's timestamp does not advance past the
// previous bar of the same instrument.
var ErrOutOfOrder = errors.New("bar timestamp not after previous bar")

// ErrMalformedBar is reported for bars with non-finite or inconsistent fields.
var ErrMalformedBar = errors.New("malformed bar")

// Bar is one OHLCV candle for a single instrument.
// Prices and volume are plain float64; bars for one instrument must arrive
// in strictly increasing TS order.
type Bar struct {
	Instrument string    `json:"instrument"`
	TS         time.Time `json:"ts"` // bar open time (UTC)
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Green reports close > open.
func (b Bar) Green() bool { return b.Close > b.Open }

// Red reports close < open.
func (b Bar) Red() bool { return b.Close < b.Open }

// Validate checks that every field is finite, prices are positive, the
// high/low range contains open and close, and volume is non-negative.
func (b Bar) Validate() error {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrMalformedBar
		}
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return ErrMalformedBar
	}
	if b.High < b.Low || b.Close > b.High || b.Close < b.Low || b.Open > b.High || b.Open < b.Low {
		return ErrMalformedBar
	}
	if b.Volume < 0 {
		return ErrMalformedBar
	}
	return nil
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
