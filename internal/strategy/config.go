package strategy

import (
	"errors"
	"fmt"
	"strings"

	"barsignal/internal/indicator"
)

// Rule set names.
const (
	RulesVolumeRSI = "volume_rsi"
	RulesMACDEMA   = "macd_ema"
	RulesTrendRSI  = "trend_rsi"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Config is the immutable parameter set of one engine.
type Config struct {
	Rules string `yaml:"rules" json:"rules"`

	ATRLength              int     `yaml:"atr_length" json:"atr_length"`
	TrailingStopMultiplier float64 `yaml:"trailing_stop_multiplier" json:"trailing_stop_multiplier"`
	NumWrongLimit          int     `yaml:"num_wrong_limit" json:"num_wrong_limit"`

	VolumeLookback        int     `yaml:"volume_lookback" json:"volume_lookback"`
	VolumeSpikeMultiplier float64 `yaml:"volume_spike_multiplier" json:"volume_spike_multiplier"`

	RSIPeriod              int     `yaml:"rsi_period" json:"rsi_period"`
	RSIEntryThresholdLong  float64 `yaml:"rsi_entry_threshold_long" json:"rsi_entry_threshold_long"`
	RSIEntryThresholdShort float64 `yaml:"rsi_entry_threshold_short" json:"rsi_entry_threshold_short"`
	// VolumeOnly drops the RSI filter from volume_rsi entries and reversals.
	VolumeOnly bool `yaml:"volume_only" json:"volume_only"`

	EMAPeriod  int `yaml:"ema_period" json:"ema_period"`
	SMAPeriod  int `yaml:"sma_period" json:"sma_period"`
	MACDFast   int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal"`
}

// DefaultConfig returns the documented defaults for a rule set.
// An empty name selects volume_rsi.
func DefaultConfig(rules string) Config {
	rules = normalizeRules(rules)
	cfg := Config{
		Rules:                  rules,
		ATRLength:              14,
		TrailingStopMultiplier: 2.0,
		NumWrongLimit:          3,
		VolumeLookback:         11,
		VolumeSpikeMultiplier:  1.5,
		RSIPeriod:              14,
		RSIEntryThresholdLong:  50,
		RSIEntryThresholdShort: 50,
		EMAPeriod:              100,
		SMAPeriod:              150,
		MACDFast:               6,
		MACDSlow:               19,
		MACDSignal:             4,
	}
	switch rules {
	case RulesMACDEMA:
		cfg.NumWrongLimit = 2
	case RulesTrendRSI:
		cfg.RSIEntryThresholdLong = 60
		cfg.RSIEntryThresholdShort = 40
	}
	return cfg
}

func normalizeRules(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RulesVolumeRSI
	}
	return s
}

// Validate checks every window and threshold used by the selected rule set.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch normalizeRules(c.Rules) {
	case RulesVolumeRSI, RulesMACDEMA, RulesTrendRSI:
	default:
		return bad("unknown rule set %q", c.Rules)
	}
	if c.ATRLength <= 0 {
		return bad("atr_length=%d must be positive", c.ATRLength)
	}
	if c.TrailingStopMultiplier <= 0 {
		return bad("trailing_stop_multiplier=%v must be positive", c.TrailingStopMultiplier)
	}
	if c.NumWrongLimit <= 0 {
		return bad("num_wrong_limit=%d must be positive", c.NumWrongLimit)
	}

	needs := c.needs()
	if needs.Has(indicator.NeedVolume) {
		if c.VolumeLookback < 2 {
			return bad("volume_lookback=%d must be at least 2", c.VolumeLookback)
		}
		if c.VolumeSpikeMultiplier < 0 {
			return bad("volume_spike_multiplier=%v must not be negative", c.VolumeSpikeMultiplier)
		}
	}
	if needs.Has(indicator.NeedRSI) {
		if c.RSIPeriod <= 0 {
			return bad("rsi_period=%d must be positive", c.RSIPeriod)
		}
		if c.RSIEntryThresholdLong < 0 || c.RSIEntryThresholdLong > 100 ||
			c.RSIEntryThresholdShort < 0 || c.RSIEntryThresholdShort > 100 {
			return bad("rsi thresholds must be within [0,100]")
		}
	}
	if needs.Has(indicator.NeedEMA) && c.EMAPeriod <= 0 {
		return bad("ema_period=%d must be positive", c.EMAPeriod)
	}
	if needs.Has(indicator.NeedSMA) && c.SMAPeriod <= 0 {
		return bad("sma_period=%d must be positive", c.SMAPeriod)
	}
	if needs.Has(indicator.NeedMACD) {
		if c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0 {
			return bad("macd windows must be positive")
		}
		if c.MACDFast >= c.MACDSlow {
			return bad("macd_fast=%d must be below macd_slow=%d", c.MACDFast, c.MACDSlow)
		}
	}
	return nil
}

// needs returns the indicators the configured rule set consumes.
func (c Config) needs() indicator.Needs {
	switch normalizeRules(c.Rules) {
	case RulesMACDEMA:
		return indicator.NeedATR | indicator.NeedEMA | indicator.NeedMACD
	case RulesTrendRSI:
		return indicator.NeedATR | indicator.NeedSMA | indicator.NeedRSI
	default:
		n := indicator.NeedATR | indicator.NeedVolume
		if !c.VolumeOnly {
			n |= indicator.NeedRSI
		}
		return n
	}
}

// IndicatorConfig maps the strategy windows onto an indicator bank config.
func (c Config) IndicatorConfig() indicator.Config {
	return indicator.Config{
		ATRPeriod:      c.ATRLength,
		RSIPeriod:      c.RSIPeriod,
		EMAPeriod:      c.EMAPeriod,
		SMAPeriod:      c.SMAPeriod,
		MACDFast:       c.MACDFast,
		MACDSlow:       c.MACDSlow,
		MACDSignal:     c.MACDSignal,
		VolumeLookback: c.VolumeLookback,
		Needs:          c.needs(),
	}
}

// Build returns the rule set matching the configured name.
func Build(c Config) (RuleSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch normalizeRules(c.Rules) {
	case RulesMACDEMA:
		return NewMACDEMA(c), nil
	case RulesTrendRSI:
		return NewTrendRSI(c), nil
	default:
		return NewVolumeRSI(c), nil
	}
}
