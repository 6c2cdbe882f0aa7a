// cmd/signald runs the live signal daemon.
//
// Usage:
//
//	go run ./cmd/signald --config=configs/barsignal.yaml
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"barsignal/internal/config"
	"barsignal/internal/logger"
	"barsignal/internal/signald"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "configs/barsignal.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[signald] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signald] config: %v", err)
	}
	logger.Init("signald", cfg.LogLevel)
	slog.Info("config loaded", "rules", cfg.Strategy.Rules, "instruments", cfg.Instruments)

	svc, err := signald.New(cfg)
	if err != nil {
		log.Fatalf("[signald] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[signald] fatal: %v", err)
	}
}
