// Package indicator provides incremental technical indicators over bar data.
//
// Scalar indicators implement Series and are fed one value per bar. Bank
// composes them with a bounded bar window and produces a Snapshot of the
// values a rule set needs for each bar.
package indicator

// Series is an incremental indicator over a single float64 input stream.
type Series interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
