// Package signald runs the live signal daemon: closed bars from Redis
// Streams go through one engine per instrument and the resulting events fan
// out to Redis, the SQLite journal, WebSocket clients and notifiers.
package signald

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"barsignal/internal/bus"
	"barsignal/internal/config"
	"barsignal/internal/gateway"
	"barsignal/internal/metrics"
	"barsignal/internal/model"
	"barsignal/internal/notification"
	"barsignal/internal/strategy"
	redisstore "barsignal/internal/store/redis"
	sqlitestore "barsignal/internal/store/sqlite"
)

// ErrNoInstruments is returned when no instrument is configured; bar
// streams are named per instrument.
var ErrNoInstruments = errors.New("no instruments configured")

// Service is the top-level orchestrator of the signal daemon.
type Service struct {
	cfg *config.Config

	router    *strategy.Router
	consumer  *redisstore.Consumer
	publisher *redisstore.Publisher
	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	hub       *gateway.Hub
	notifier  *notification.Dispatcher
	fan       *bus.FanOut

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	// drainCtx outlives the run context so downstream stages can finish
	// the events already produced.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	barCh   chan model.Bar
	eventCh chan strategy.Event
}

// New connects to Redis and SQLite and builds every stage.
func New(cfg *config.Config) (*Service, error) {
	if len(cfg.Instruments) == 0 {
		return nil, ErrNoInstruments
	}
	router, err := strategy.NewRouter(cfg.Strategy, 0)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	drainCtx, drainCancel := context.WithCancel(context.Background())
	svc := &Service{
		cfg:         cfg,
		router:      router,
		hub:         gateway.NewHub(),
		fan:         bus.New(1024),
		reg:         reg,
		prom:        metrics.NewMetrics(reg),
		health:      metrics.NewHealthStatus(),
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		barCh:       make(chan model.Bar, 5000),
		eventCh:     make(chan strategy.Event, 5000),
	}
	svc.health.SetInstruments(len(cfg.Instruments))

	rcfg := redisstore.Config{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		ConsumerGroup: cfg.Redis.Group,
		ConsumerName:  cfg.Redis.Consumer,
	}
	if svc.consumer, err = redisstore.NewConsumer(rcfg); err != nil {
		drainCancel()
		return nil, err
	}

	cb := redisstore.NewCircuitBreaker(5, 5*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	if svc.publisher, err = redisstore.NewPublisher(drainCtx, rcfg, cb, 0); err != nil {
		svc.consumer.Close()
		drainCancel()
		return nil, err
	}
	svc.publisher.OnBuffer = func(pending int) {
		svc.prom.RedisBufferedWrites.Inc()
		svc.health.SetBufferedWrites(pending)
	}
	svc.publisher.OnFlush = func(int) {
		svc.health.SetBufferedWrites(svc.publisher.PendingCount())
	}
	svc.health.SetRedisConnected(true)

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[signald] sqlite dir %s: %v", dir, err)
		}
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
		DBPath:         cfg.SQLite.Path,
		BatchSize:      cfg.SQLite.JournalBatch,
		CheckpointKeep: cfg.SQLite.CheckpointKeep,
		ArchiveBars:    true,
	})
	if err != nil {
		log.Printf("[signald] WARNING: sqlite writer init failed: %v (continuing without journal)", err)
	} else {
		svc.health.SetSQLiteOK(true)
		svc.sqlWriter.OnCommit = func(rows int, dur time.Duration) {
			svc.prom.JournalRows.Add(float64(rows))
			svc.prom.JournalCommitDur.Observe(dur.Seconds())
		}
	}
	if svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLite.Path); err != nil {
		log.Printf("[signald] WARNING: sqlite reader init failed: %v (checkpoints restore from redis only)", err)
	}

	svc.notifier = notification.NewDispatcher(cfg.WebhookTimeout, notifiers(cfg)...)
	svc.notifier.OnError = func(error) { svc.prom.NotifyErrors.Inc() }
	svc.hub.OnClients = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.fan.OnDrop = func(name string) { svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc() }

	return svc, nil
}

func notifiers(cfg *config.Config) []notification.Notifier {
	out := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.Telegram.BotToken != "" {
		out = append(out, notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	return out
}

// Run starts all stages and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[signald] starting signal daemon...")

	if err := svc.restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	streams := redisstore.BarStreams(svc.cfg.Instruments)
	if err := svc.consumer.EnsureConsumerGroup(ctx, streams); err != nil {
		return err
	}

	var wg sync.WaitGroup
	stage := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Printf("[signald] %s stopped", name)
		}()
	}

	// Downstream stages end when their input closes.
	pubCh := svc.fan.Subscribe("redis")
	wsCh := svc.fan.Subscribe("ws")
	notifyCh := svc.fan.Subscribe("notify")
	stage("fanout", func() { svc.fan.Run(svc.drainCtx, svc.eventCh) })
	stage("publisher", func() { svc.publisher.Run(svc.drainCtx, pubCh) })
	stage("ws hub", func() { svc.hub.Run(svc.drainCtx, wsCh) })
	stage("notifier", func() { svc.notifier.Run(svc.drainCtx, notifyCh) })
	if svc.sqlWriter != nil {
		journalCh := svc.fan.SubscribeLossless("journal")
		stage("journal", func() { svc.sqlWriter.Run(svc.drainCtx, journalCh) })
	}

	p := &pipeline{router: svc.router, prom: svc.prom, health: svc.health}
	stage("pipeline", func() { p.run(ctx, svc.barCh, svc.eventCh) })
	stage("consumer", func() {
		defer close(svc.barCh)
		n, err := svc.consumer.RecoverPending(ctx, streams, svc.barCh)
		if err != nil {
			log.Printf("[signald] pending recovery error: %v", err)
		}
		if n > 0 {
			svc.prom.PendingReclaimed.Add(float64(n))
			log.Printf("[signald] re-delivered %d pending bars", n)
		}
		if err := svc.consumer.Consume(ctx, streams, svc.barCh); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[signald] consumer error: %v", err)
		}
	})

	sched, err := svc.startCheckpoints(ctx)
	if err != nil {
		return err
	}
	servers := svc.startHTTP()
	svc.health.StartLivenessChecker(ctx, svc.publisher.Client(), svc.journalDB(), 10*time.Second)

	log.Println("[signald] ╔════════════════════════════════════════════════════════╗")
	log.Println("[signald] ║  Signal Daemon Active                                  ║")
	log.Println("[signald] ║  [Redis bars] → [Engines] → [Redis/SQLite/WS/Notify]   ║")
	log.Printf("[signald] ║  rules=%s instruments=%v", svc.cfg.Strategy.Rules, svc.cfg.Instruments)
	log.Printf("[signald] ║  checkpoints %q", svc.cfg.CheckpointCron)
	log.Println("[signald] ╚════════════════════════════════════════════════════════╝")

	<-ctx.Done()
	svc.shutdown(sched, servers, &wg)
	return nil
}

func (svc *Service) journalDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}
