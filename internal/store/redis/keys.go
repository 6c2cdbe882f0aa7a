package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

const (
	barStreamPrefix    = "bar:"
	signalStreamPrefix = "signal:"
	signalChanPrefix   = "pub:signal:"
	stateKeyPrefix     = "state:latest:"
	checkpointPrefix   = "ckpt:"
)

// BarStream is the stream closed bars for instrument are read from.
func BarStream(instrument string) string { return barStreamPrefix + instrument }

// SignalStream is the stream position transitions are appended to.
func SignalStream(instrument string) string { return signalStreamPrefix + instrument }

// SignalChannel is the Pub/Sub channel transitions are published on.
func SignalChannel(instrument string) string { return signalChanPrefix + instrument }

// StateKey holds the latest per-bar event for instrument.
func StateKey(instrument string) string { return stateKeyPrefix + instrument }

// CheckpointKey holds the latest engine checkpoint for instrument.
func CheckpointKey(instrument string) string { return checkpointPrefix + instrument }

// BarStreams maps instruments to their bar streams.
func BarStreams(instruments []string) []string {
	out := make([]string, len(instruments))
	for i, inst := range instruments {
		out[i] = BarStream(inst)
	}
	return out
}

var errNoData = errors.New("stream message has no data field")

// DecodeBar parses the "data" field of a bar stream message. A bar without
// an instrument takes it from the stream name.
func DecodeBar(stream string, values map[string]interface{}) (model.Bar, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.Bar{}, errNoData
	}
	var b model.Bar
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return model.Bar{}, fmt.Errorf("decode bar from %s: %w", stream, err)
	}
	if b.Instrument == "" {
		b.Instrument = strings.TrimPrefix(stream, barStreamPrefix)
	}
	return b, nil
}

// EncodeBar returns stream values for a bar, the inverse of DecodeBar.
func EncodeBar(b model.Bar) map[string]interface{} {
	return map[string]interface{}{"data": string(b.JSON())}
}

// message is one event ready for the wire.
type message struct {
	Instrument string
	Seq        uint64
	Transition bool
	Data       string

	// SkipState is set when a newer event already refreshed the state key.
	SkipState bool
}

func encodeEvent(ev strategy.Event) (message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return message{}, fmt.Errorf("encode event %s/%d: %w", ev.Instrument, ev.Seq, err)
	}
	return message{
		Instrument: ev.Instrument,
		Seq:        ev.Seq,
		Transition: ev.Transition != model.TransitionNone,
		Data:       string(data),
	}, nil
}
