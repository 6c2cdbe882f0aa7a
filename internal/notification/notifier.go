// Package notification delivers position transitions (entries, exits,
// reversals) to external channels.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert is one notification. Transition alerts carry the event fields too.
type Alert struct {
	Level      AlertLevel       `json:"level"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Instrument string           `json:"instrument,omitempty"`
	Transition model.Transition `json:"transition,omitempty"`
	Reason     model.Reason     `json:"reason,omitempty"`
	Signal     model.Signal     `json:"signal"`
	Price      float64          `json:"price,omitempty"`
	BarTS      time.Time        `json:"bar_ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// FromEvent builds the alert for an event. ok is false for bars that did
// not change the position.
func FromEvent(ev strategy.Event) (alert Alert, ok bool) {
	if ev.Transition == model.TransitionNone || ev.Rejected != "" {
		return Alert{}, false
	}

	alert = Alert{
		Level:      AlertInfo,
		Instrument: ev.Instrument,
		Transition: ev.Transition,
		Reason:     ev.Reason,
		Signal:     ev.Signal,
		Price:      ev.Bar.Close,
		BarTS:      ev.Bar.TS,
	}
	switch ev.Transition {
	case model.TransitionEntry:
		alert.Title = fmt.Sprintf("%s %s entry", ev.Instrument, ev.State.Side)
		alert.Message = fmt.Sprintf("entered %s at %.2f", ev.State.Side, ev.Bar.Close)
	case model.TransitionReversal:
		alert.Title = fmt.Sprintf("%s reversal to %s", ev.Instrument, ev.State.Side)
		alert.Message = fmt.Sprintf("reversed %s -> %s at %.2f", ev.From, ev.State.Side, ev.Bar.Close)
	case model.TransitionExit:
		alert.Title = fmt.Sprintf("%s %s exit", ev.Instrument, ev.From)
		alert.Message = fmt.Sprintf("exited %s at %.2f (%s)", ev.From, ev.Bar.Close, ev.Reason)
		if ev.Reason == model.ReasonTrailingStop || ev.Reason == model.ReasonAdverseStreak {
			alert.Level = AlertWarning
		}
	}
	if ev.State.HasStop() {
		alert.Message += fmt.Sprintf(", stop %.2f", ev.State.TrailingStop)
	}
	return alert, true
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Dispatcher forwards transition events to every configured notifier.
// A failing notifier is logged and does not block the others.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration

	// OnError is called for each failed delivery (optional).
	OnError func(err error)
}

// NewDispatcher creates a dispatcher. timeout bounds each delivery.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout}
}

// Notify sends the alert for ev, if any, and reports how many notifiers
// accepted it.
func (d *Dispatcher) Notify(ctx context.Context, ev strategy.Event) int {
	alert, ok := FromEvent(ev)
	if !ok {
		return 0
	}
	sent := 0
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, alert)
		cancel()
		if err != nil {
			log.Printf("[notify] %s: %v", alert.Title, err)
			if d.OnError != nil {
				d.OnError(err)
			}
			continue
		}
		sent++
	}
	return sent
}

// Run notifies for every event from eventCh until ctx is cancelled or the
// channel closes.
func (d *Dispatcher) Run(ctx context.Context, eventCh <-chan strategy.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			d.Notify(ctx, ev)
		}
	}
}
