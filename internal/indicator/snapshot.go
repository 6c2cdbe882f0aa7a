package indicator

import (
	"fmt"

	"barsignal/internal/model"
)

// Snapshot holds the indicator values derived for one bar.
// Fields for indicators the bank was not asked to compute stay zero.
type Snapshot struct {
	ATR            float64 `json:"atr"`
	RSI            float64 `json:"rsi,omitempty"`
	EMA            float64 `json:"ema,omitempty"`
	SMA            float64 `json:"sma,omitempty"`
	MACD           float64 `json:"macd,omitempty"`
	MACDSignal     float64 `json:"macd_signal,omitempty"`
	PrevMACD       float64 `json:"prev_macd,omitempty"`
	PrevMACDSignal float64 `json:"prev_macd_signal,omitempty"`
	VolumeMean     float64 `json:"volume_mean,omitempty"`
	VolumeStd      float64 `json:"volume_std,omitempty"`

	// Ready is true once every required indicator is warmed up.
	Ready bool `json:"ready"`
}

// BullishCross reports prev MACD <= prev signal and MACD > signal.
func (s Snapshot) BullishCross() bool {
	return s.PrevMACD <= s.PrevMACDSignal && s.MACD > s.MACDSignal
}

// BearishCross reports prev MACD >= prev signal and MACD < signal.
func (s Snapshot) BearishCross() bool {
	return s.PrevMACD >= s.PrevMACDSignal && s.MACD < s.MACDSignal
}

// State holds the serialized internals of a single indicator instance.
type State struct {
	Type   string `json:"type"` // "SMA", "EMA", "SMMA", "RSI", "ATR", "MACD"
	Period int    `json:"period,omitempty"`

	// SMA fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI / ATR fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`
	Seen      bool    `json:"seen,omitempty"`

	// MACD fields
	PrevLine   float64 `json:"prev_line,omitempty"`
	PrevSignal float64 `json:"prev_signal,omitempty"`

	// Composite indicators (ATR, MACD) nest their components here.
	Parts []State `json:"parts,omitempty"`
}

func (s State) expect(typ string) error {
	if s.Type != typ {
		return fmt.Errorf("indicator state type %q, want %q", s.Type, typ)
	}
	return nil
}

func errBadParts(typ string, want, got int) error {
	return fmt.Errorf("indicator state %s: expected %d parts, got %d", typ, want, got)
}

// BankState is the full checkpoint of a Bank: configuration, the bar window
// and every live indicator.
type BankState struct {
	Config  Config      `json:"config"`
	Count   int         `json:"count"`
	Window  []model.Bar `json:"window"`
	ATR     *State      `json:"atr,omitempty"`
	RSI     *State      `json:"rsi,omitempty"`
	EMA     *State      `json:"ema,omitempty"`
	SMA     *State      `json:"sma,omitempty"`
	MACD    *State      `json:"macd,omitempty"`
	Version int         `json:"version"` // schema version for forward compat
}
