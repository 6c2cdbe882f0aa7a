package strategy

import (
	"fmt"
	"time"

	"barsignal/internal/indicator"
	"barsignal/internal/model"
)

// CheckpointVersion is bumped whenever the checkpoint layout changes.
const CheckpointVersion = 1

// Checkpoint is the complete serialisable state of an Engine.
type Checkpoint struct {
	Version    int                 `json:"version"`
	Instrument string              `json:"instrument"`
	Config     Config              `json:"config"`
	Bank       indicator.BankState `json:"bank"`
	State      model.PositionState `json:"state"`
	LastTS     time.Time           `json:"last_ts"`
	Seq        uint64              `json:"seq"`
	Rejected   uint64              `json:"rejected"`
	SavedAt    time.Time           `json:"saved_at"`
}

// Checkpoint captures the engine so RestoreEngine can resume it exactly.
func (e *Engine) Checkpoint() Checkpoint {
	return Checkpoint{
		Version:    CheckpointVersion,
		Instrument: e.instrument,
		Config:     e.cfg,
		Bank:       e.bank.State(),
		State:      e.state,
		LastTS:     e.lastTS,
		Seq:        e.seq,
		Rejected:   e.rejected,
		SavedAt:    time.Now().UTC(),
	}
}

// RestoreEngine rebuilds an engine from a checkpoint.
func RestoreEngine(cp Checkpoint) (*Engine, error) {
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("restore %s: unsupported checkpoint version %d", cp.Instrument, cp.Version)
	}
	e, err := NewEngine(cp.Instrument, cp.Config)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", cp.Instrument, err)
	}
	if cp.Bank.Config.Needs&e.rules.Needs() != e.rules.Needs() {
		return nil, fmt.Errorf("restore %s: checkpoint indicators do not cover rule set %s", cp.Instrument, e.rules.Name())
	}
	bank, err := indicator.RestoreBank(cp.Bank)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", cp.Instrument, err)
	}

	e.bank = bank
	e.state = cp.State
	e.lastTS = cp.LastTS
	e.seq = cp.Seq
	e.rejected = cp.Rejected
	if cp.State.Open() {
		e.stop.side = cp.State.Side
		e.stop.level = cp.State.TrailingStop
	}
	return e, nil
}
