package model

import "strconv"

// Signal is the per-bar output of a strategy engine.
//
//	+1 go long or flip to long
//	-1 go short or flip to short
//	 0 hold
//	 2 exit to flat without reversing
type Signal int

const (
	SignalHold  Signal = 0
	SignalLong  Signal = 1
	SignalShort Signal = -1
	SignalExit  Signal = 2
)

func (s Signal) String() string {
	switch s {
	case SignalHold:
		return "HOLD"
	case SignalLong:
		return "LONG"
	case SignalShort:
		return "SHORT"
	case SignalExit:
		return "EXIT"
	default:
		return "SIGNAL(" + strconv.Itoa(int(s)) + ")"
	}
}

// Transition classifies what happened to the position on a bar.
type Transition string

const (
	TransitionNone     Transition = ""
	TransitionEntry    Transition = "ENTRY"
	TransitionReversal Transition = "REVERSAL"
	TransitionExit     Transition = "EXIT"
)

// Reason explains why a position was closed or flipped.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonReversal      Reason = "reversal"
	ReasonAdverseStreak Reason = "adverse_streak"
	ReasonTrailingStop  Reason = "trailing_stop"
	ReasonTrendLost     Reason = "trend_lost"
	ReasonMACDCross     Reason = "macd_cross"
	ReasonRSIFade       Reason = "rsi_fade"
)
