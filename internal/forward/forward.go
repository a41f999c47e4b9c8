// Package forward mirrors per-frame analysis data and renderer changes to
// secondary presentation surfaces over websockets. Delivery is fire and
// forget: a slow subscriber loses frames, never stalls the pipeline.
package forward

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/render"
)

// clientBuffer is the per-subscriber queue depth before frames are dropped.
const clientBuffer = 8

type envelope struct {
	Type        string         `json:"type"`
	TimeDomain  []byte         `json:"timeDomain,omitempty"`
	Frequency   []byte         `json:"frequency,omitempty"`
	TimestampMs float64        `json:"timestampMs,omitempty"`
	SampleRate  int            `json:"sampleRate,omitempty"`
	WindowSize  int            `json:"windowSize,omitempty"`
	Renderer    string         `json:"renderer,omitempty"`
	Options     render.Options `json:"options,omitempty"`
}

type client struct {
	send chan []byte
}

// Hub fans frames out to connected secondary displays.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	dropped uint64
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Handle upgrades an HTTP request to a websocket subscription.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("display subscription failed", "error", err)
		return
	}

	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("secondary display connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("secondary display disconnected", "remote", r.RemoteAddr)
	}()

	ctx := r.Context()
	for msg := range c.send {
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			return
		}
	}
}

// TrySend mirrors one analysis frame. The frame is serialized immediately,
// so the analyzer is free to reuse its backing buffers on the next tick.
func (h *Hub) TrySend(f *analyzer.Frame) {
	h.broadcast(envelope{
		Type:        "frame",
		TimeDomain:  f.TimeDomain,
		Frequency:   f.Frequency,
		TimestampMs: f.TimestampMs,
		SampleRate:  f.SampleRate,
		WindowSize:  f.WindowSize,
	})
}

// TryOptions mirrors a renderer type/option change.
func (h *Hub) TryOptions(renderer string, opts render.Options) {
	h.broadcast(envelope{Type: "options", Renderer: renderer, Options: opts})
}

func (h *Hub) broadcast(env envelope) {
	h.mu.Lock()
	if h.closed || len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}

	msg, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		slog.Warn("frame mirror encode failed", "error", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped++
		}
	}
	h.mu.Unlock()
}

// Dropped returns how many messages were discarded due to slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
