package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

func exitEvent() strategy.Event {
	return strategy.Event{
		Instrument: "NIFTY",
		Seq:        42,
		Bar:        model.Bar{Instrument: "NIFTY", TS: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), Open: 101, High: 102, Low: 95, Close: 96, Volume: 10},
		Signal:     model.SignalExit,
		Transition: model.TransitionExit,
		Reason:     model.ReasonTrailingStop,
		From:       model.Long,
	}
}

func TestFromEvent(t *testing.T) {
	if _, ok := FromEvent(strategy.Event{Instrument: "NIFTY"}); ok {
		t.Fatal("hold bar must not alert")
	}

	a, ok := FromEvent(exitEvent())
	if !ok {
		t.Fatal("exit must alert")
	}
	if a.Level != AlertWarning || a.Reason != model.ReasonTrailingStop || a.Price != 96 {
		t.Fatalf("alert = %+v", a)
	}
	if !strings.Contains(a.Title, "NIFTY") || !strings.Contains(a.Message, "trailing_stop") {
		t.Errorf("title %q message %q", a.Title, a.Message)
	}

	entry := strategy.Event{
		Instrument: "NIFTY",
		Signal:     model.SignalShort,
		Transition: model.TransitionEntry,
		Bar:        model.Bar{Close: 100},
		State:      model.PositionState{Side: model.Short, EntryPrice: 100, TrailingStop: 107},
	}
	a, _ = FromEvent(entry)
	if a.Level != AlertInfo || !strings.Contains(a.Message, "stop 107.00") {
		t.Errorf("entry alert = %+v", a)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, _ := FromEvent(exitEvent())
	if err := NewWebhookNotifier(srv.URL, time.Second).Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Instrument != "NIFTY" || got.Transition != model.TransitionExit || got.SentAt.IsZero() {
		t.Fatalf("payload = %+v", got)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "-100")
	n.baseURL = srv.URL
	a, _ := FromEvent(exitEvent())
	if err := n.Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if body["chat_id"] != "-100" || body["parse_mode"] != "MarkdownV2" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(body["text"], `96\.00`) {
		t.Errorf("text not escaped: %q", body["text"])
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b (1.5)!"); got != `a\_b \(1\.5\)\!` {
		t.Fatalf("escapeMarkdown = %q", got)
	}
}

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestDispatcher_Notify(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	var failures int
	d := NewDispatcher(time.Second, bad, ok)
	d.OnError = func(error) { failures++ }

	if n := d.Notify(context.Background(), strategy.Event{Instrument: "NIFTY"}); n != 0 {
		t.Fatalf("hold bar notified %d", n)
	}
	if n := d.Notify(context.Background(), exitEvent()); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if len(ok.alerts) != 1 || len(bad.alerts) != 1 || failures != 1 {
		t.Fatalf("ok=%d bad=%d failures=%d", len(ok.alerts), len(bad.alerts), failures)
	}
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	rec := &recorder{}
	ch := make(chan strategy.Event, 2)
	ch <- exitEvent()
	ch <- strategy.Event{Instrument: "NIFTY"}
	close(ch)

	NewDispatcher(0, rec).Run(context.Background(), ch)
	if len(rec.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(rec.alerts))
	}
}
