package indicator

import (
	"fmt"

	"barsignal/internal/model"
	"barsignal/internal/ringbuf"
)

// Needs is a bit set of the indicators a rule set consumes.
type Needs uint8

const (
	NeedATR Needs = 1 << iota
	NeedRSI
	NeedEMA
	NeedSMA
	NeedMACD
	NeedVolume
)

// Has reports whether every bit of x is set.
func (n Needs) Has(x Needs) bool { return n&x == x }

// Config specifies indicator windows for a Bank.
type Config struct {
	ATRPeriod      int   `json:"atr_period"`
	RSIPeriod      int   `json:"rsi_period"`
	EMAPeriod      int   `json:"ema_period"`
	SMAPeriod      int   `json:"sma_period"`
	MACDFast       int   `json:"macd_fast"`
	MACDSlow       int   `json:"macd_slow"`
	MACDSignal     int   `json:"macd_signal"`
	VolumeLookback int   `json:"volume_lookback"`
	Needs          Needs `json:"needs"`
}

// WarmupBars returns how many bars must be seen before every needed
// indicator is defined. It is never less than 2 so a previous bar exists.
func (c Config) WarmupBars() int {
	n := 2
	grow := func(v int) {
		if v > n {
			n = v
		}
	}
	if c.Needs.Has(NeedATR) {
		grow(c.ATRPeriod + 1)
	}
	if c.Needs.Has(NeedRSI) {
		grow(c.RSIPeriod + 1)
	}
	if c.Needs.Has(NeedEMA) {
		grow(c.EMAPeriod)
	}
	if c.Needs.Has(NeedSMA) {
		grow(c.SMAPeriod)
	}
	if c.Needs.Has(NeedMACD) {
		grow(c.MACDSlow + c.MACDSignal)
	}
	if c.Needs.Has(NeedVolume) {
		grow(c.VolumeLookback + 1)
	}
	return n
}

// Bank maintains every needed indicator for one instrument plus a bounded
// window of recent bars. Not safe for concurrent use.
type Bank struct {
	cfg    Config
	window *ringbuf.Window
	count  int

	atr  *ATR
	rsi  *RSI
	ema  *EMA
	sma  *SMA
	macd *MACD

	vols []float64
}

// NewBank creates a bank for cfg. ATR is always computed since trailing
// stops depend on it.
func NewBank(cfg Config) *Bank {
	cfg.Needs |= NeedATR
	b := &Bank{
		cfg:    cfg,
		window: ringbuf.New(cfg.WarmupBars()),
		atr:    NewATR(cfg.ATRPeriod),
	}
	if cfg.Needs.Has(NeedRSI) {
		b.rsi = NewRSI(cfg.RSIPeriod)
	}
	if cfg.Needs.Has(NeedEMA) {
		b.ema = NewEMA(cfg.EMAPeriod)
	}
	if cfg.Needs.Has(NeedSMA) {
		b.sma = NewSMA(cfg.SMAPeriod)
	}
	if cfg.Needs.Has(NeedMACD) {
		b.macd = NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	}
	if cfg.Needs.Has(NeedVolume) {
		b.vols = make([]float64, 0, cfg.VolumeLookback)
	}
	return b
}

// Config returns the bank configuration (with NeedATR set).
func (b *Bank) Config() Config { return b.cfg }

// Count returns the number of bars fed so far.
func (b *Bank) Count() int { return b.count }

// Previous returns the bar before the most recent one.
func (b *Bank) Previous() (model.Bar, bool) { return b.window.Back(1) }

// Update feeds a bar to every indicator and returns the resulting values.
func (b *Bank) Update(bar model.Bar) Snapshot {
	b.window.Push(bar)
	b.count++

	b.atr.Update(bar)
	if b.rsi != nil {
		b.rsi.Update(bar.Close)
	}
	if b.ema != nil {
		b.ema.Update(bar.Close)
	}
	if b.sma != nil {
		b.sma.Update(bar.Close)
	}
	if b.macd != nil {
		b.macd.Update(bar.Close)
	}

	snap := Snapshot{ATR: b.atr.Value()}
	ready := b.atr.Ready()

	if b.rsi != nil {
		snap.RSI = b.rsi.Value()
		ready = ready && b.rsi.Ready()
	}
	if b.ema != nil {
		snap.EMA = b.ema.Value()
		ready = ready && b.ema.Ready()
	}
	if b.sma != nil {
		snap.SMA = b.sma.Value()
		ready = ready && b.sma.Ready()
	}
	if b.macd != nil {
		snap.MACD = b.macd.Value()
		snap.MACDSignal = b.macd.Signal()
		snap.PrevMACD, snap.PrevMACDSignal = b.macd.Prev()
		ready = ready && b.macd.CrossReady()
	}
	if b.vols != nil {
		vols := b.window.Volumes(b.vols, b.cfg.VolumeLookback)
		if vols == nil {
			ready = false
		} else {
			snap.VolumeMean, snap.VolumeStd = MeanStd(vols)
		}
	}

	snap.Ready = ready && b.count >= b.cfg.WarmupBars()
	return snap
}

// State captures the bank for checkpointing.
func (b *Bank) State() BankState {
	st := BankState{
		Config:  b.cfg,
		Count:   b.count,
		Window:  b.window.Bars(),
		Version: 1,
	}
	atr := b.atr.State()
	st.ATR = &atr
	if b.rsi != nil {
		s := b.rsi.State()
		st.RSI = &s
	}
	if b.ema != nil {
		s := b.ema.State()
		st.EMA = &s
	}
	if b.sma != nil {
		s := b.sma.State()
		st.SMA = &s
	}
	if b.macd != nil {
		s := b.macd.State()
		st.MACD = &s
	}
	return st
}

// RestoreBank rebuilds a bank from a checkpoint.
func RestoreBank(st BankState) (*Bank, error) {
	b := NewBank(st.Config)
	for _, bar := range st.Window {
		b.window.Push(bar)
	}
	b.count = st.Count

	restore := func(name string, s *State, fn func(State) error) error {
		if s == nil {
			return fmt.Errorf("restore bank: missing %s state", name)
		}
		if err := fn(*s); err != nil {
			return fmt.Errorf("restore bank %s: %w", name, err)
		}
		return nil
	}

	if err := restore("ATR", st.ATR, b.atr.Restore); err != nil {
		return nil, err
	}
	if b.rsi != nil {
		if err := restore("RSI", st.RSI, b.rsi.Restore); err != nil {
			return nil, err
		}
	}
	if b.ema != nil {
		if err := restore("EMA", st.EMA, b.ema.Restore); err != nil {
			return nil, err
		}
	}
	if b.sma != nil {
		if err := restore("SMA", st.SMA, b.sma.Restore); err != nil {
			return nil, err
		}
	}
	if b.macd != nil {
		if err := restore("MACD", st.MACD, b.macd.Restore); err != nil {
			return nil, err
		}
	}
	return b, nil
}
