package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation updates.
type SMA struct {
	period  int
	buf     []float64
	idx     int // current write position
	count   int // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(price float64) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// State serializes the SMA for checkpoint persistence.
func (s *SMA) State() State {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return State{
		Type:    "SMA",
		Period:  s.period,
		Buf:     bufCopy,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// Restore loads SMA state from a checkpoint.
func (s *SMA) Restore(st State) error {
	if err := st.expect("SMA"); err != nil {
		return err
	}
	s.period = st.Period
	s.idx = st.Idx
	s.count = st.Count
	s.sum = st.Sum
	s.current = st.Current
	s.buf = make([]float64, st.Period)
	copy(s.buf, st.Buf)
	return nil
}
