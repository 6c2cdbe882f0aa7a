package signald

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"barsignal/internal/metrics"
)

// startCheckpoints schedules periodic engine checkpoints. An empty
// schedule disables them; a final checkpoint is still taken on shutdown.
func (svc *Service) startCheckpoints(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if svc.cfg.CheckpointCron == "" {
		return c, nil
	}
	_, err := c.AddFunc(svc.cfg.CheckpointCron, func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		svc.checkpoint(cctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("[signald] checkpoint job scheduled (%s)", svc.cfg.CheckpointCron)
	return c, nil
}

type httpServers struct {
	metrics *metrics.Server
	ws      *http.Server
}

// startHTTP serves /metrics, /healthz and /state on the metrics address and
// the WebSocket hub on its own address.
func (svc *Service) startHTTP() httpServers {
	ms := metrics.NewServer(svc.cfg.HTTP.MetricsAddr, svc.reg, svc.health)
	ms.Handle("/state", http.HandlerFunc(svc.handleState))
	ms.Start()

	mux := http.NewServeMux()
	mux.Handle("/ws", svc.hub)
	mux.HandleFunc("/ws/missed", svc.hub.HandleMissed)
	ws := &http.Server{Addr: svc.cfg.HTTP.WSAddr, Handler: mux}
	go func() {
		log.Printf("[signald] websocket server listening on %s", svc.cfg.HTTP.WSAddr)
		if err := ws.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[signald] websocket server error: %v", err)
		}
	}()
	return httpServers{metrics: ms, ws: ws}
}

// handleState serves the position state of every tracked instrument.
func (svc *Service) handleState(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Instrument string      `json:"instrument"`
		State      interface{} `json:"state"`
	}
	var out []entry
	for _, inst := range svc.router.Instruments() {
		if st, ok := svc.router.State(inst); ok {
			out = append(out, entry{Instrument: inst, State: st})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("[signald] /state encode error: %v", err)
	}
}

// shutdown drains the pipeline, saves a final checkpoint and closes
// connections.
func (svc *Service) shutdown(sched *cron.Cron, servers httpServers, wg *sync.WaitGroup) {
	log.Println("[signald] shutdown signal received, draining...")

	<-sched.Stop().Done()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		log.Println("[signald] WARNING: drain timed out, abandoning in-flight events")
	}
	svc.drainCancel()

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.checkpoint(shutCtx)
	log.Println("[signald] final checkpoint saved")

	servers.metrics.Stop(shutCtx)
	servers.ws.Shutdown(shutCtx)
	svc.hub.Close()

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.publisher.Close()
	svc.consumer.Close()

	log.Println("[signald] shutdown complete.")
}
