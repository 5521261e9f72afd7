// Package server exposes the poolbot HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/server/handler"
	"github.com/alanyoungcy/poolbot/internal/server/middleware"
	"github.com/alanyoungcy/poolbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port    int
	Origins *middleware.OriginPolicy
	// AdminAPIKey guards the resolve and audit endpoints; empty disables it.
	AdminAPIKey string
	// MarketsRateLimit is the per-client request budget for GET /api/markets
	// per minute. Zero disables it.
	MarketsRateLimit int
	ShutdownTimeout  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Bot     *handler.BotHandler
	Resolve *handler.ResolveHandler
	Journal *handler.JournalHandler
}

// Exporter serves the Prometheus registry and instruments the mux.
type Exporter interface {
	Handler() http.Handler
	InstrumentHandler(next http.Handler) http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	shutdown   time.Duration
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter, hub and exporter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, hub *ws.Hub, exporter Exporter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	admin := middleware.Auth(cfg.AdminAPIKey)
	limited := middleware.RateLimit(limiter, "markets", cfg.MarketsRateLimit, time.Minute)

	listMarkets := limited(http.HandlerFunc(handlers.Markets.ListMarkets))
	resolve := admin(http.HandlerFunc(handlers.Resolve.Resolve))

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /api/markets", listMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.Markets.GetHistory)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Journal.ListTrades)
	mux.HandleFunc("GET /api/bot/status", handlers.Bot.GetStatus)
	mux.Handle("POST /api/resolve", resolve)
	mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Journal.ListAudit)))

	// Unprefixed routes kept for the existing dashboard.
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.Handle("GET /markets", listMarkets)
	mux.HandleFunc("GET /markets/{id}/history", handlers.Markets.GetHistory)
	mux.Handle("POST /resolve", resolve)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if exporter != nil {
		mux.Handle("GET /metrics", exporter.Handler())
	}

	var h http.Handler = mux
	if exporter != nil {
		h = exporter.InstrumentHandler(h)
	}
	h = middleware.Logging(logger)(h)
	if cfg.Origins != nil {
		h = middleware.CORS(cfg.Origins)(h)
	}

	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Resolution waits for the transaction to be mined.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		shutdown:   shutdown,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens until ctx is cancelled and then shuts down gracefully,
// waiting for in-flight requests up to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server: listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
