package indicator

// EMA calculates Exponential Moving Average.
// Seeded by the simple average of the first period values, O(1) per update.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++

	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// State serializes the EMA for checkpoint persistence.
func (e *EMA) State() State {
	return State{
		Type:       "EMA",
		Period:     e.period,
		Multiplier: e.multiplier,
		Current:    e.current,
		Count:      e.count,
		Sum:        e.sum,
	}
}

// Restore loads EMA state from a checkpoint.
func (e *EMA) Restore(s State) error {
	if err := s.expect("EMA"); err != nil {
		return err
	}
	e.period = s.Period
	e.multiplier = s.Multiplier
	e.current = s.Current
	e.count = s.Count
	e.sum = s.Sum
	return nil
}
