package indicator

// MACD tracks the MACD line (EMA fast - EMA slow), its signal EMA and the
// previous bar's pair so that crossovers can be detected on the edge.
//
// The line exists once the slow EMA is ready (slow bars). The signal line is
// seeded by the average of the first signal line values, so it is ready after
// slow+signal-1 bars; crossovers need one more bar.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	line       float64
	prevLine   float64
	prevSignal float64
	hasPrev    bool
}

// NewMACD creates a MACD with the given fast, slow and signal periods.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

// Update feeds the next close.
func (m *MACD) Update(price float64) {
	if m.signal.Ready() {
		m.prevLine = m.line
		m.prevSignal = m.signal.Value()
		m.hasPrev = true
	}

	m.fast.Update(price)
	m.slow.Update(price)
	if !m.slow.Ready() {
		return
	}

	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Prev returns the previous bar's line and signal values.
func (m *MACD) Prev() (line, signal float64) { return m.prevLine, m.prevSignal }

// Ready reports whether line and signal are defined on the current bar.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// CrossReady reports whether the previous bar's pair is also defined.
func (m *MACD) CrossReady() bool { return m.hasPrev && m.signal.Ready() }

// State serializes the MACD for checkpoint persistence.
func (m *MACD) State() State {
	return State{
		Type:       "MACD",
		Current:    m.line,
		PrevLine:   m.prevLine,
		PrevSignal: m.prevSignal,
		Seen:       m.hasPrev,
		Parts:      []State{m.fast.State(), m.slow.State(), m.signal.State()},
	}
}

// Restore loads MACD state from a checkpoint.
func (m *MACD) Restore(s State) error {
	if err := s.expect("MACD"); err != nil {
		return err
	}
	if len(s.Parts) != 3 {
		return errBadParts("MACD", 3, len(s.Parts))
	}
	for i, e := range []*EMA{m.fast, m.slow, m.signal} {
		if err := e.Restore(s.Parts[i]); err != nil {
			return err
		}
	}
	m.line = s.Current
	m.prevLine = s.PrevLine
	m.prevSignal = s.PrevSignal
	m.hasPrev = s.Seen
	return nil
}
