// Package gateway streams engine events to WebSocket subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"barsignal/internal/config"
	"barsignal/internal/strategy"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and fans engine events out to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	// OnClients is called with the client count after every connect and
	// disconnect (optional).
	OnClients func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// Channel names the WebSocket channel an instrument's events go out on.
func Channel(instrument string) string { return "signal:" + instrument }

// Run broadcasts every event from eventCh. Blocks until ctx is cancelled
// or eventCh is closed.
func (h *Hub) Run(ctx context.Context, eventCh <-chan strategy.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Publish broadcasts one event. Rejected bars are not sent.
func (h *Hub) Publish(ev strategy.Event) {
	if ev.Rejected != "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gateway] marshal event %s/%d: %v", ev.Instrument, ev.Seq, err)
		return
	}
	kind := kindBar
	if ev.Transition != "" {
		kind = kindTransition
	}
	h.broadcast(ev.Instrument, kind, data)
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// Query parameters: instruments=A,B limits delivery, transitions_only=1
// drops plain bar updates, last_seq=N replays buffered envelopes after N.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	q := r.URL.Query()
	filters := ClientFilters{TransitionsOnly: q.Get("transitions_only") == "1"}
	if v := q.Get("instruments"); v != "" {
		filters.Instruments = config.ParseList(v)
	}
	var lastSeq int64 = -1
	if v := q.Get("last_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastSeq = n
		}
	}

	client := newClient(h, conn, filters)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(count)

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.clientsChanged(count)
}

func (h *Hub) clientsChanged(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// HandleMissed serves GET ?instrument=X&from=N&to=M with the buffered
// envelopes of that instrument's channel in [from, to].
func (h *Hub) HandleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	inst := q.Get("instrument")
	if inst == "" || err1 != nil || err2 != nil || from > to {
		http.Error(w, "instrument, from and to are required", http.StatusBadRequest)
		return
	}

	envs := h.ReplayRange(Channel(inst), from, to)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Latest returns the newest event payload of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
