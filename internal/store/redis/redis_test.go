package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

func TestKeys(t *testing.T) {
	if got := BarStream("NIFTY"); got != "bar:NIFTY" {
		t.Errorf("BarStream = %q", got)
	}
	if got := SignalStream("NIFTY"); got != "signal:NIFTY" {
		t.Errorf("SignalStream = %q", got)
	}
	if got := SignalChannel("NIFTY"); got != "pub:signal:NIFTY" {
		t.Errorf("SignalChannel = %q", got)
	}
	if got := BarStreams([]string{"A", "B"}); len(got) != 2 || got[1] != "bar:B" {
		t.Errorf("BarStreams = %v", got)
	}
}

func TestDecodeBar(t *testing.T) {
	b := model.Bar{
		TS:   time.Date(2024, 2, 1, 9, 15, 0, 0, time.UTC),
		Open: 10, High: 12, Low: 9, Close: 11, Volume: 500,
	}
	got, err := DecodeBar("bar:NIFTY", EncodeBar(b))
	if err != nil {
		t.Fatalf("DecodeBar: %v", err)
	}
	if got.Instrument != "NIFTY" || !got.TS.Equal(b.TS) || got.Close != 11 || got.Volume != 500 {
		t.Fatalf("unexpected bar %+v", got)
	}

	if _, err := DecodeBar("bar:X", map[string]interface{}{"foo": "bar"}); !errors.Is(err, errNoData) {
		t.Fatalf("expected errNoData, got %v", err)
	}
	if _, err := DecodeBar("bar:X", map[string]interface{}{"data": "{"}); err == nil {
		t.Fatal("expected decode error")
	}
}

type fakeSink struct {
	mu   sync.Mutex
	fail bool
	got  []message
}

func (s *fakeSink) send(_ context.Context, msgs []message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errFail
	}
	s.got = append(s.got, msgs...)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func event(seq uint64, tr model.Transition) strategy.Event {
	return strategy.Event{Instrument: "NIFTY", Seq: seq, Transition: tr, Signal: model.SignalLong}
}

func TestPublisher_BuffersWhileDownAndFlushes(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{fail: true}
	cb, clk := newBreaker(2)
	p := newPublisher(ctx, cb, 3, sink.send)
	flushed := make(chan int, 1)
	p.OnFlush = func(n int) { flushed <- n }

	for i := uint64(0); i < 5; i++ {
		p.Publish(ctx, event(i, model.TransitionEntry))
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open breaker, got %v", cb.CurrentState())
	}
	if p.PendingCount() != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", p.PendingCount())
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	clk.advance(time.Minute)
	if err := p.Publish(ctx, event(5, model.TransitionNone)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case n := <-flushed:
		if n != 3 {
			t.Fatalf("expected 3 flushed, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not flushed after the breaker closed")
	}
	if sink.count() != 4 || p.PendingCount() != 0 {
		t.Fatalf("expected 4 delivered and none pending, got %d/%d", sink.count(), p.PendingCount())
	}

	var ev strategy.Event
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if err := json.Unmarshal([]byte(sink.got[0].Data), &ev); err != nil || ev.Seq != 2 {
		t.Fatalf("expected oldest surviving buffered event seq 2 first, got %d (%v)", ev.Seq, err)
	}
	if sink.got[3].Seq != 5 {
		t.Fatalf("expected live event last, got seq %d", sink.got[3].Seq)
	}
	if !sink.got[0].Transition || sink.got[3].Transition {
		t.Fatal("transition flag not carried")
	}
}

func TestPublisher_SingleFailureFlushesOnNextWrite(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{fail: true}
	cb, _ := newBreaker(5)
	p := newPublisher(ctx, cb, 0, sink.send)

	if err := p.Publish(ctx, event(1, model.TransitionEntry)); err == nil {
		t.Fatal("expected write error")
	}
	if cb.CurrentState() != StateClosed || p.PendingCount() != 1 {
		t.Fatalf("expected closed breaker with 1 pending, got %v/%d", cb.CurrentState(), p.PendingCount())
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	for seq := uint64(2); seq <= 5; seq++ {
		if err := p.Publish(ctx, event(seq, model.TransitionNone)); err != nil {
			t.Fatalf("Publish %d: %v", seq, err)
		}
	}

	if p.PendingCount() != 0 {
		t.Fatalf("event stranded in buffer: pending=%d", p.PendingCount())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 5 {
		t.Fatalf("expected 5 delivered, got %d", len(sink.got))
	}
	for i, m := range sink.got {
		if m.Seq != uint64(i+1) {
			t.Fatalf("delivery %d has seq %d, want %d", i, m.Seq, i+1)
		}
		if m.SkipState {
			t.Fatalf("seq %d should refresh the state key", m.Seq)
		}
	}
}

func TestPublisher_OlderEventKeepsNewerState(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{}
	cb, _ := newBreaker(5)
	p := newPublisher(ctx, cb, 0, sink.send)

	if err := p.Publish(ctx, event(7, model.TransitionNone)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	old, err := encodeEvent(event(6, model.TransitionExit))
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	other, err := encodeEvent(strategy.Event{Instrument: "BANKNIFTY", Seq: 1})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if err := p.deliver(ctx, []message{old, other}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 3 {
		t.Fatalf("expected 3 delivered, got %d", len(sink.got))
	}
	if !sink.got[1].SkipState || !sink.got[1].Transition {
		t.Fatalf("stale exit must keep its stream entry and skip the state key: %+v", sink.got[1])
	}
	if sink.got[2].SkipState {
		t.Fatal("first event of another instrument must refresh its state key")
	}
}

func TestPublisher_SkipsRejected(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{}
	cb, _ := newBreaker(1)
	p := newPublisher(ctx, cb, 0, sink.send)

	ev := event(0, model.TransitionNone)
	ev.Rejected = "malformed bar"
	if err := p.Publish(ctx, ev); err != nil || sink.count() != 0 {
		t.Fatalf("rejected bar published: %v, %d", err, sink.count())
	}
}
