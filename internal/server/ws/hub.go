// Package ws pushes market and trade events to browser clients over
// WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// Channels are the event channels a client receives by default.
var Channels = []string{domain.ChannelMarkets, domain.ChannelTrades}

// Hub tracks connected clients and fans events out to them. Events arrive
// through Publish in a single process, or are relayed from a SignalBus when
// the bot runs elsewhere.
type Hub struct {
	bus       domain.SignalBus
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
}

var _ domain.Publisher = (*Hub)(nil)

// NewHub creates a hub. bus may be nil; checkOrigin may be nil to accept
// every origin.
func NewHub(bus domain.SignalBus, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:    logger.With(slog.String("component", "ws")),
		startedAt: time.Now().UTC(),
		clients:   make(map[*client]struct{}),
		done:      make(chan struct{}),
	}
}

// Publish hands payload to every client subscribed to channel. A client
// whose queue is full misses the event; Publish itself never blocks.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		if !c.enqueue(payload) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("ws: slow clients missed an event",
			slog.String("channel", channel),
			slog.Int("dropped", dropped),
		)
	}
	return nil
}

// Run relays the signal bus, when there is one, and blocks until ctx is
// cancelled. On return every client connection is closed.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop()

	if h.bus != nil {
		for _, ch := range Channels {
			go h.relay(ctx, ch)
		}
	}
	<-ctx.Done()
	return nil
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		h.stopped = true
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	})
}

// add registers c, reporting false once the hub has stopped.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

// remove drops c and closes its queue. Removing twice is a no-op.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
}

// relay forwards one SignalBus channel to the local clients.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: bus subscription failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			_ = h.Publish(ctx, channel, data)
		}
	}
}

// HandleWS upgrades the request and starts the client's read and write
// loops.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.enqueue(h.hello())
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
