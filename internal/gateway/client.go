package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	filters ClientFilters
	allowed map[string]bool
}

// ClientFilters limits what a client receives. Empty Instruments means all.
type ClientFilters struct {
	Instruments     []string `json:"instruments"`
	TransitionsOnly bool     `json:"transitions_only"`
}

// controlMsg is what clients send to change their filters.
type controlMsg struct {
	Type            string   `json:"type"` // SUBSCRIBE, UNSUBSCRIBE
	Instruments     []string `json:"instruments"`
	TransitionsOnly *bool    `json:"transitions_only"`
	Ping            int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, f ClientFilters) *Client {
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}
	c.setFilters(f)
	return c
}

func (c *Client) setFilters(f ClientFilters) {
	allowed := make(map[string]bool, len(f.Instruments))
	for _, inst := range f.Instruments {
		allowed[inst] = true
	}
	c.mu.Lock()
	c.filters = f
	c.allowed = allowed
	c.mu.Unlock()
}

func (c *Client) matches(instrument, kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filters.TransitionsOnly && kind != kindTransition {
		return false
	}
	return len(c.allowed) == 0 || c.allowed[instrument]
}

// sendInitialState replays buffered envelopes newer than lastSeq on every
// channel the client can see. lastSeq < 0 sends nothing.
func (c *Client) sendInitialState(lastSeq int64) {
	if lastSeq < 0 {
		return
	}
	c.hub.mu.RLock()
	channels := make(map[string]*ReplayBuffer, len(c.hub.replayBufs))
	for ch, rb := range c.hub.replayBufs {
		channels[ch] = rb
	}
	c.hub.mu.RUnlock()

	for ch, rb := range channels {
		inst := ch[len("signal:"):]
		if !c.matches(inst, kindTransition) {
			continue
		}
		for _, e := range rb.After(lastSeq) {
			select {
			case c.send <- e.Data:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.mu.RLock()
			f := c.filters
			c.mu.RUnlock()
			f.Instruments = msg.Instruments
			if msg.TransitionsOnly != nil {
				f.TransitionsOnly = *msg.TransitionsOnly
			}
			c.setFilters(f)
			c.reply(map[string]interface{}{"type": "subscribed", "filters": f})

		case "UNSUBSCRIBE":
			c.setFilters(ClientFilters{})
			c.reply(map[string]interface{}{"type": "unsubscribed"})

		default:
			if msg.Ping > 0 {
				c.reply(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
