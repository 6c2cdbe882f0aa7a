// Package strategy turns closed bars into position signals.
//
// A RuleSet decides what to do on one bar given the indicator values and the
// current position. An Engine owns the position state machine and trailing
// stop for a single instrument, and a Router fans bars out to one Engine per
// instrument.
package strategy

import (
	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// Action is what a rule set wants done on the current bar.
type Action int

const (
	ActionHold Action = iota
	ActionEnterLong
	ActionEnterShort
	ActionExit
	ActionReverse
)

// Inputs is everything a rule set may look at for one bar.
// Prev is the bar immediately before Bar.
type Inputs struct {
	Bar  model.Bar
	Prev model.Bar
	Ind  indicator.Snapshot

	Side model.Side
	// AdverseCloses already includes the current bar.
	AdverseCloses int
	// Stop is the trailing stop carried in from the previous bar.
	Stop float64
}

// Decision is a rule set's verdict for one bar.
type Decision struct {
	Action Action
	Reason model.Reason
}

var hold = Decision{Action: ActionHold}

// RuleSet is the interface every signal variant implements.
type RuleSet interface {
	// Name returns the configured rule set name.
	Name() string

	// Needs returns the indicators Decide reads from Inputs.Ind.
	Needs() indicator.Needs

	// Decide is called only once the indicator snapshot is ready.
	Decide(in Inputs) Decision
}
