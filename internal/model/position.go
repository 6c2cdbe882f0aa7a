package model

// Side is the direction of the open position.
type Side int8

const (
	Flat  Side = 0
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Opposite returns the reverse side. Flat stays flat.
func (s Side) Opposite() Side { return -s }

// PositionState is the mutable state owned by a strategy engine.
// TrailingStop is meaningful only while Side != Flat.
type PositionState struct {
	Side          Side    `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	TrailingStop  float64 `json:"trailing_stop"`
	AdverseCloses int     `json:"adverse_closes"`
	LastClose     float64 `json:"last_close"`
}

// HasStop reports whether a trailing stop is currently defined.
func (p PositionState) HasStop() bool { return p.Side != Flat }

// Open reports whether a position is held.
func (p PositionState) Open() bool { return p.Side != Flat }
