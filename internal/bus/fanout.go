// Package bus fans engine events out to independent consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"barsignal/internal/strategy"
)

type output struct {
	name     string
	ch       chan strategy.Event
	lossless bool
}

// FanOut broadcasts events from a single input channel to N named outputs.
// A full lossy output drops the event for that consumer only; a lossless
// output applies backpressure to the whole bus.
type FanOut struct {
	mu      sync.RWMutex
	outputs []output
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates a lossy output channel.
func (f *FanOut) Subscribe(name string) <-chan strategy.Event {
	return f.add(name, false)
}

// SubscribeLossless creates an output that never drops; Run waits for it.
func (f *FanOut) SubscribeLossless(name string) <-chan strategy.Event {
	return f.add(name, true)
}

func (f *FanOut) add(name string, lossless bool) <-chan strategy.Event {
	ch := make(chan strategy.Event, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output{name: name, ch: ch, lossless: lossless})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan strategy.Event) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			if !f.deliver(ctx, ev) {
				return
			}
		}
	}
}

func (f *FanOut) deliver(ctx context.Context, ev strategy.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.outputs {
		if o.lossless {
			select {
			case o.ch <- ev:
			case <-ctx.Done():
				return false
			}
			continue
		}
		select {
		case o.ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(o.name)
			} else {
				log.Printf("[bus] output %s full, dropping %s/%d", o.name, ev.Instrument, ev.Seq)
			}
		}
	}
	return true
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of every subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
