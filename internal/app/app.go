// Package app provides the top-level application lifecycle for poolbot. It
// wires together the ledger client, history store, optional journal, cache
// and blob backends, the bot scheduler and the query server, and starts the
// goroutines required by the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/poolbot/internal/config"
	"github.com/alanyoungcy/poolbot/internal/notify"
)

// ResolveTarget selects the market and outcome settled by resolve mode.
type ResolveTarget struct {
	MarketID   string
	OutcomeYes bool
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	resolve ResolveTarget
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// SetResolveTarget sets the market settled by resolve mode.
func (a *App) SetResolveTarget(t ResolveTarget) { a.resolve = t }

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled or the one-shot mode finishes.
func (a *App) Run(ctx context.Context) error {
	log := a.logger.With(slog.String("component", "app"))
	log.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	log.InfoContext(ctx, "markets loaded",
		slog.Int("count", len(deps.Markets)),
		slog.String("path", a.cfg.Markets.Path),
	)
	if addr := deps.Ledger.Address(); addr != "" {
		log.InfoContext(ctx, "bot wallet", slog.String("address", addr))
	}

	mode := strings.ToLower(a.cfg.Mode)
	if mode == "full" || mode == "bot" {
		msg := fmt.Sprintf("poolbot started in %s mode with %d markets", mode, len(deps.Markets))
		_ = deps.Notifier.Notify(ctx, notify.EventStartup, "Startup", msg)
	}

	switch mode {
	case "full":
		return a.FullMode(ctx, deps)
	case "bot":
		return a.BotMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "approve":
		return a.ApproveMode(ctx, deps)
	case "resolve":
		return a.ResolveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application", slog.String("component", "app"))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
