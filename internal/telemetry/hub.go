// Package telemetry streams live pipeline events to websocket clients as
// JSON messages. Publishing never blocks: a client that cannot keep up loses
// events rather than slowing the sampling task.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/signglove/internal/observe"
)

// Event types.
const (
	TypeSample   = "sample"
	TypeDecision = "decision"
	TypeCommit   = "commit"
	TypeTrigger  = "trigger"
	TypeSpeech   = "speech"
)

// Event is one message sent to clients.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 2 * time.Second
)

// Hub fans events out to connected clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	metrics *observe.Metrics

	dropped atomic.Uint64
}

type client struct {
	ch chan Event
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-client queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics records the connected client count on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub returns a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{clients: make(map[*client]struct{}), buffer: defaultBuffer}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish queues ev for every client. Events for a client whose queue is
// full are dropped and counted.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of events dropped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) add(ctx context.Context) *client {
	c := &client{ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.TelemetryClients.Add(ctx, 1)
	}
	return c
}

func (h *Hub) remove(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.TelemetryClients.Add(context.WithoutCancel(ctx), -1)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("telemetry: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := h.add(r.Context())
	defer h.remove(r.Context(), c)

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("telemetry: client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-c.ch:
			if err := write(ctx, conn, ev); err != nil {
				slog.Debug("telemetry: client gone", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
