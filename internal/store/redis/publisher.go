package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"barsignal/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

const (
	signalStreamMaxLen = 10000
	defaultStateTTL    = 30 * time.Minute
	checkpointTTL      = 7 * 24 * time.Hour
	defaultMaxBuffer   = 10000
)

// Publisher writes engine events to Redis through a circuit breaker.
// While Redis is unreachable, events are buffered locally. The buffer is
// replayed ahead of the next successful write, or when the breaker closes.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	send   func(ctx context.Context, msgs []message) error

	mu     sync.Mutex
	buffer []message
	maxBuf int

	// sendMu orders writes; stateSeq is the newest seq written to each
	// state key.
	sendMu   sync.Mutex
	stateSeq map[string]uint64

	// Callbacks (optional)
	OnBuffer func(pending int) // called with the lock held when writes are buffered
	OnFlush  func(count int)   // called after buffered writes are replayed
}

// NewPublisher connects to Redis and returns a publisher guarded by cb.
func NewPublisher(ctx context.Context, cfg Config, cb *CircuitBreaker, maxBufferSize int) (*Publisher, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	p := newPublisher(ctx, cb, maxBufferSize, nil)
	p.client = client
	p.send = p.pipeline
	log.Printf("[redis-publisher] connected to %s", cfg.Addr)
	return p, nil
}

func newPublisher(ctx context.Context, cb *CircuitBreaker, maxBufferSize int, send func(context.Context, []message) error) *Publisher {
	if maxBufferSize <= 0 {
		maxBufferSize = defaultMaxBuffer
	}
	p := &Publisher{
		cb:       cb,
		send:     send,
		buffer:   make([]message, 0, 256),
		maxBuf:   maxBufferSize,
		stateSeq: make(map[string]uint64),
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[redis-publisher] circuit %s -> %s", from, to)
		if to == StateClosed {
			go p.flush(ctx)
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Run publishes every event from eventCh.
// Blocks until ctx is cancelled or eventCh is closed.
func (p *Publisher) Run(ctx context.Context, eventCh <-chan strategy.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				log.Printf("[redis-publisher] %v", err)
			}
		}
	}
}

// Publish writes one event. Rejected bars are skipped. Buffered events
// are sent first, in one batch with ev. Write failures and an open circuit
// buffer the batch instead of dropping it.
func (p *Publisher) Publish(ctx context.Context, ev strategy.Event) error {
	if ev.Rejected != "" {
		return nil
	}
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	batch := append(p.takeBuffer(), msg)
	err = p.cb.Execute(func() error { return p.deliver(ctx, batch) })
	if err != nil {
		p.requeue(batch)
		if errors.Is(err, ErrCircuitOpen) {
			return nil
		}
		return fmt.Errorf("publish %s/%d: %w", ev.Instrument, ev.Seq, err)
	}
	if n := len(batch) - 1; n > 0 {
		log.Printf("[redis-publisher] flushed %d buffered writes", n)
		if p.OnFlush != nil {
			p.OnFlush(n)
		}
	}
	return nil
}

// deliver sends msgs in order. A message older than the last state written
// for its instrument keeps its stream entry but leaves the state key alone.
func (p *Publisher) deliver(ctx context.Context, msgs []message) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	newest := make(map[string]uint64, 1)
	for i := range msgs {
		m := &msgs[i]
		last, ok := newest[m.Instrument]
		if !ok {
			last, ok = p.stateSeq[m.Instrument]
		}
		m.SkipState = ok && m.Seq <= last
		if !m.SkipState {
			newest[m.Instrument] = m.Seq
		}
	}
	if err := p.send(ctx, msgs); err != nil {
		return err
	}
	for inst, seq := range newest {
		p.stateSeq[inst] = seq
	}
	return nil
}

// pipeline sends messages in one round trip: every event refreshes the
// latest-state key; transitions are also appended to the signal stream and
// published.
func (p *Publisher) pipeline(ctx context.Context, msgs []message) error {
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		if !m.SkipState {
			pipe.Set(ctx, StateKey(m.Instrument), m.Data, defaultStateTTL)
		}
		if !m.Transition {
			continue
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream(m.Instrument),
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": m.Data},
		})
		pipe.Publish(ctx, SignalChannel(m.Instrument), m.Data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) takeBuffer() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) == 0 {
		return nil
	}
	out := p.buffer
	p.buffer = make([]message, 0, 256)
	return out
}

// requeue puts msgs back at the head of the buffer, dropping the oldest
// writes past the cap.
func (p *Publisher) requeue(msgs []message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer = append(append(make([]message, 0, len(msgs)+len(p.buffer)), msgs...), p.buffer...)
	if over := len(p.buffer) - p.maxBuf; over > 0 {
		p.buffer = p.buffer[over:]
	}
	if p.OnBuffer != nil {
		p.OnBuffer(len(p.buffer))
	}
}

func (p *Publisher) flush(ctx context.Context) {
	toFlush := p.takeBuffer()
	if len(toFlush) == 0 {
		return
	}
	if err := p.deliver(ctx, toFlush); err != nil {
		log.Printf("[redis-publisher] flush of %d buffered writes failed: %v", len(toFlush), err)
		p.requeue(toFlush)
		return
	}

	log.Printf("[redis-publisher] flushed %d buffered writes", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// SaveCheckpoints stores the latest checkpoint of each engine.
func (p *Publisher) SaveCheckpoints(ctx context.Context, cps []strategy.Checkpoint) error {
	if len(cps) == 0 {
		return nil
	}
	return p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		for _, cp := range cps {
			data, err := json.Marshal(cp)
			if err != nil {
				return fmt.Errorf("marshal checkpoint %s: %w", cp.Instrument, err)
			}
			pipe.Set(ctx, CheckpointKey(cp.Instrument), data, checkpointTTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
