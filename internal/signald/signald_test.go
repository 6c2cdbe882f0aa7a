package signald

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barsignal/internal/config"
	"barsignal/internal/metrics"
	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

var t0 = time.Date(2024, 2, 5, 9, 15, 0, 0, time.UTC)

func testConfig() strategy.Config {
	cfg := strategy.DefaultConfig(strategy.RulesVolumeRSI)
	cfg.ATRLength, cfg.RSIPeriod, cfg.VolumeLookback = 2, 2, 2
	return cfg
}

func bar(inst string, i int, close float64) model.Bar {
	open := close - 1
	return model.Bar{
		Instrument: inst,
		TS:         t0.Add(time.Duration(i) * time.Minute),
		Open:       open,
		High:       math.Max(open, close) + 1,
		Low:        math.Min(open, close) - 1,
		Close:      close,
		Volume:     100,
	}
}

func TestMergeCheckpoints(t *testing.T) {
	old := strategy.Checkpoint{Instrument: "NIFTY", LastTS: t0, SavedAt: t0.Add(time.Hour)}
	newer := strategy.Checkpoint{Instrument: "NIFTY", LastTS: t0.Add(time.Minute), SavedAt: t0}
	resaved := strategy.Checkpoint{Instrument: "NIFTY", LastTS: t0.Add(time.Minute), SavedAt: t0.Add(2 * time.Hour)}
	other := strategy.Checkpoint{Instrument: "BANKNIFTY", LastTS: t0}

	got := mergeCheckpoints([]strategy.Checkpoint{old, other}, []strategy.Checkpoint{newer, resaved})
	if len(got) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(got))
	}
	if got[0].Instrument != "BANKNIFTY" || got[1].Instrument != "NIFTY" {
		t.Fatalf("unexpected order %s, %s", got[0].Instrument, got[1].Instrument)
	}
	if !got[1].SavedAt.Equal(resaved.SavedAt) {
		t.Errorf("picked %+v, want the latest bar then latest save", got[1])
	}
}

func TestPipeline_ProcessesUntilClosed(t *testing.T) {
	router, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	p := &pipeline{
		router: router,
		prom:   metrics.NewMetrics(prometheus.NewRegistry()),
		health: metrics.NewHealthStatus(),
	}

	barCh := make(chan model.Bar, 8)
	out := make(chan strategy.Event, 8)
	for i := 0; i < 4; i++ {
		barCh <- bar("NIFTY", i, 100+float64(i))
	}
	barCh <- bar("NIFTY", 1, 90)   // out of order
	barCh <- model.Bar{Close: 100} // no instrument, dropped
	close(barCh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // must not stop the drain
	p.run(ctx, barCh, out)

	var evs []strategy.Event
	for ev := range out {
		evs = append(evs, ev)
	}
	if len(evs) != 5 {
		t.Fatalf("got %d events, want 5", len(evs))
	}
	if evs[4].Rejected == "" {
		t.Error("out-of-order bar must be rejected")
	}
	if !p.health.LastBarTime.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("last bar time = %v", p.health.LastBarTime)
	}
}

func TestService_HandleState(t *testing.T) {
	router, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	router.Process(bar("SENSEX", 0, 100))
	router.Process(bar("NIFTY", 0, 100))

	svc := &Service{router: router}
	rec := httptest.NewRecorder()
	svc.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	var got []struct {
		Instrument string              `json:"instrument"`
		State      model.PositionState `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Instrument != "NIFTY" || got[1].State.LastClose != 100 {
		t.Fatalf("state = %+v", got)
	}
}

func TestNew_RequiresInstruments(t *testing.T) {
	if _, err := New(config.Default("")); err != ErrNoInstruments {
		t.Fatalf("err = %v, want ErrNoInstruments", err)
	}
}

type fakeArchive []model.Bar

func (a fakeArchive) ReadBars(instrument string, after time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range a {
		if b.Instrument == instrument && b.TS.After(after) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestCatchUp_ResumesLikeUninterruptedRun(t *testing.T) {
	closes := []float64{100, 101, 99, 103, 104, 102, 106, 108, 105, 104, 103, 107, 110, 109, 111, 108, 107, 106, 112, 115}
	var bars []model.Bar
	for i, c := range closes {
		b := bar("NIFTY", i, c)
		if i%4 == 3 {
			b.Volume = 1000
		}
		bars = append(bars, b)
	}
	live, tail := bars[:16], bars[16:]

	full, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	crashed, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range live {
		full.Process(b)
		if i < 6 {
			crashed.Process(b)
		}
	}
	cps := crashed.Checkpoints()

	restarted, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := restarted.Restore(cps); err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	n, err := catchUp(context.Background(), restarted, fakeArchive(live))
	if err != nil {
		t.Fatalf("catchUp: %v", err)
	}
	if n != 10 {
		t.Fatalf("replayed %d bars, want 10", n)
	}

	for _, b := range tail {
		want, _ := full.Process(b)
		got, _ := restarted.Process(b)
		if got.Rejected != "" {
			t.Fatalf("bar %v rejected after catch-up: %s", b.TS, got.Rejected)
		}
		if got.Seq != want.Seq || got.Signal != want.Signal || got.Transition != want.Transition || got.State != want.State {
			t.Fatalf("bar %v: got %+v/%v/%v, want %+v/%v/%v",
				b.TS, got.State, got.Signal, got.Transition, want.State, want.Signal, want.Transition)
		}
	}
}

func TestCatchUp_Cancelled(t *testing.T) {
	router, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	router.Process(bar("NIFTY", 0, 100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catchUp(ctx, router, fakeArchive{bar("NIFTY", 1, 101)}); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type brokenWriter struct{ *httptest.ResponseRecorder }

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestService_HandleStateLogsWriteError(t *testing.T) {
	router, err := strategy.NewRouter(testConfig(), 0)
	if err != nil {
		t.Fatal(err)
	}
	router.Process(bar("NIFTY", 0, 100))

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	svc := &Service{router: router}
	w := &brokenWriter{httptest.NewRecorder()}
	svc.handleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	if !strings.Contains(buf.String(), "[signald] /state encode error") {
		t.Fatalf("write error not logged: %q", buf.String())
	}
}
