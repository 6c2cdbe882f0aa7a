package signald

import (
	"context"
	"log/slog"
	"time"

	"barsignal/internal/logger"
	"barsignal/internal/metrics"
	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// pipeline turns bars into events: route, observe, log, forward.
type pipeline struct {
	router *strategy.Router
	prom   *metrics.Metrics
	health *metrics.HealthStatus
}

// run processes every bar from barCh until it is closed, then closes out.
// Cancellation is not observed here: the producer closes barCh on shutdown.
func (p *pipeline) run(ctx context.Context, barCh <-chan model.Bar, out chan<- strategy.Event) {
	defer close(out)
	for bar := range barCh {
		if ev, ok := p.step(ctx, bar); ok {
			out <- ev
		}
	}
}

func (p *pipeline) step(ctx context.Context, bar model.Bar) (strategy.Event, bool) {
	ctx = logger.WithTraceID(ctx, logger.BarTraceID(bar.Instrument, bar.TS))

	start := time.Now()
	ev, err := p.router.Process(bar)
	elapsed := time.Since(start)
	if err != nil {
		slog.WarnContext(ctx, "bar dropped", append(logger.Trace(ctx), "error", err)...)
		return ev, false
	}

	if p.prom != nil {
		p.prom.Observe(ev, elapsed)
	}
	if p.health != nil && ev.Rejected == "" {
		p.health.SetLastBarTime(bar.TS)
	}

	switch {
	case ev.Rejected != "":
		slog.WarnContext(ctx, "bar rejected",
			append(logger.Trace(ctx), "instrument", ev.Instrument, "ts", bar.TS, "reason", ev.Rejected)...)
	case ev.Transition != model.TransitionNone:
		slog.InfoContext(ctx, "position transition",
			append(logger.Trace(ctx),
				"instrument", ev.Instrument,
				"transition", ev.Transition,
				"reason", ev.Reason,
				"signal", ev.Signal.String(),
				"from", ev.From.String(),
				"side", ev.State.Side.String(),
				"close", bar.Close,
				"stop", ev.State.TrailingStop,
			)...)
	default:
		slog.DebugContext(ctx, "bar processed",
			append(logger.Trace(ctx), "instrument", ev.Instrument, "seq", ev.Seq, "warmup", ev.Warmup())...)
	}
	return ev, true
}
