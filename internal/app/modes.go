package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolbot/internal/bot"
	"github.com/alanyoungcy/poolbot/internal/config"
	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/notify"
	"github.com/alanyoungcy/poolbot/internal/server"
	"github.com/alanyoungcy/poolbot/internal/server/handler"
	"github.com/alanyoungcy/poolbot/internal/server/middleware"
	"github.com/alanyoungcy/poolbot/internal/server/ws"
	"github.com/alanyoungcy/poolbot/internal/service"
)

// FullMode runs the bot scheduler and the query server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	hub, err := a.newHub(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	pub := publisherFor(deps, hub)

	sched := a.newScheduler(deps, pub)
	g.Go(func() error {
		return sched.Run(ctx, deps.Markets)
	})

	agg := a.newAggregator(deps, pub)
	a.startPolling(ctx, g, deps, agg)
	a.startArchiver(ctx, g, deps)

	if err := a.startHTTPServer(ctx, g, deps, hub, agg, sched, pub); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	return g.Wait()
}

// BotMode runs only the per-market trading tasks, plus background
// collection and archiving when configured.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)

	pub := publisherFor(deps, nil)
	sched := a.newScheduler(deps, pub)
	g.Go(func() error {
		return sched.Run(ctx, deps.Markets)
	})

	a.startPolling(ctx, g, deps, a.newAggregator(deps, pub))
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode runs only the query server. Trade events from a separate bot
// process reach WebSocket clients through the Redis signal bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub, err := a.newHub(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	pub := publisherFor(deps, hub)

	agg := a.newAggregator(deps, pub)
	a.startPolling(ctx, g, deps, agg)

	if err := a.startHTTPServer(ctx, g, deps, hub, agg, nil, pub); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	return g.Wait()
}

// ApproveMode checks the allowance of every market once, approving where
// needed, and returns. Every outcome is logged; the error reports how many
// markets failed.
func (a *App) ApproveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting approve mode", slog.Int("markets", len(deps.Markets)))

	guard := bot.NewAllowanceGuard(deps.Ledger, a.logger)
	owner := deps.Ledger.Address()

	failed := 0
	for _, m := range deps.Markets {
		out := guard.Ensure(ctx, owner, m.Contract, big.NewInt(1))
		attrs := []any{
			slog.String("market_id", m.ID),
			slog.String("contract", m.Contract),
			slog.String("status", string(out.Status)),
		}
		if out.TxHash != "" {
			attrs = append(attrs, slog.String("tx", out.TxHash))
		}
		if out.Status == bot.ApprovalFailed {
			failed++
			attrs = append(attrs, slog.String("error", out.Err.Error()))
			a.logger.ErrorContext(ctx, "approval failed", attrs...)
			continue
		}
		a.logger.InfoContext(ctx, "approval checked", attrs...)
	}

	if failed > 0 {
		return fmt.Errorf("approve mode: %d of %d markets: %w", failed, len(deps.Markets), domain.ErrApprovalFailed)
	}
	a.logger.InfoContext(ctx, "all markets approved")
	return nil
}

// ResolveMode settles the market selected with SetResolveTarget and returns.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	if a.resolve.MarketID == "" {
		return fmt.Errorf("%w: resolve mode: -market is required", domain.ErrConfiguration)
	}
	if _, ok := config.FindMarket(deps.Markets, a.resolve.MarketID); !ok {
		return fmt.Errorf("%w: resolve mode: unknown market %q", domain.ErrConfiguration, a.resolve.MarketID)
	}

	svc := a.newResolutionService(deps, publisherFor(deps, nil))
	res, err := svc.Resolve(ctx, a.resolve.MarketID, a.resolve.OutcomeYes)
	if err != nil {
		return fmt.Errorf("resolve mode: %w", err)
	}
	a.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", res.MarketID),
		slog.Bool("outcome_yes", res.OutcomeYes),
		slog.String("tx", res.TxHash),
		slog.Uint64("block", res.BlockNumber),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

// publisherFor routes events through the signal bus when Redis is wired, so
// every process sees them, and to the local hub otherwise. The hub relays the
// bus itself, so events are never delivered twice.
func publisherFor(deps *Dependencies, hub *ws.Hub) domain.Publisher {
	if deps.SignalBus != nil {
		return deps.SignalBus
	}
	if hub != nil {
		return hub
	}
	return nil
}

func (a *App) newHub(deps *Dependencies) (*ws.Hub, error) {
	policy, err := a.originPolicy()
	if err != nil {
		return nil, err
	}
	return ws.NewHub(deps.SignalBus, policy.CheckOrigin, a.logger), nil
}

func (a *App) originPolicy() (*middleware.OriginPolicy, error) {
	policy, err := middleware.NewOriginPolicy(a.cfg.Server.CORSOrigins, a.cfg.Server.CORSOriginPatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: server: %w", domain.ErrConfiguration, err)
	}
	return policy, nil
}

func (a *App) newScheduler(deps *Dependencies, pub domain.Publisher) *bot.Scheduler {
	guard := bot.NewAllowanceGuard(deps.Ledger, a.logger)
	engine := bot.NewTradeEngine(deps.Ledger, nil, nil)
	sched := bot.NewScheduler(guard, engine, deps.Ledger.Address(), a.cfg.Bot.Interval.Duration, a.logger)
	if pub != nil {
		sched.SetPublisher(pub)
	}
	if ts := deps.TradeStore(); ts != nil {
		sched.SetTradeStore(ts)
	}
	if deps.Metrics != nil {
		sched.SetMetrics(deps.Metrics)
	}
	sched.SetNotifier(deps.Notifier)
	return sched
}

func (a *App) newAggregator(deps *Dependencies, pub domain.Publisher) *service.Aggregator {
	agg := service.NewAggregator(
		deps.Ledger,
		deps.History,
		a.cfg.Aggregator.Concurrency,
		a.cfg.Aggregator.ReadTimeout.Duration,
		a.logger,
	)
	if deps.SnapshotCache != nil {
		agg.SetCache(deps.SnapshotCache)
	}
	if pub != nil {
		agg.SetPublisher(pub)
	}
	if deps.Metrics != nil {
		agg.SetMetrics(deps.Metrics)
	}
	agg.OnPersistFailure(func(ctx context.Context, err error) {
		_ = deps.Notifier.Notify(ctx, notify.EventPersistFailed, "History persist failed", err.Error())
	})
	return agg
}

func (a *App) newResolutionService(deps *Dependencies, pub domain.Publisher) *service.ResolutionService {
	svc := service.NewResolutionService(deps.Ledger, deps.Markets, deps.LockManager, a.logger)
	if as := deps.AuditStore(); as != nil {
		svc.SetAuditStore(as)
	}
	if pub != nil {
		svc.SetPublisher(pub)
	}
	svc.SetNotifier(deps.Notifier)
	return svc
}

// startPolling adds background collection when aggregator.poll_interval is set.
func (a *App) startPolling(ctx context.Context, g *errgroup.Group, deps *Dependencies, agg *service.Aggregator) {
	interval := a.cfg.Aggregator.PollInterval.Duration
	if interval <= 0 {
		return
	}
	g.Go(func() error {
		return agg.Run(ctx, deps.Markets, interval)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// startHTTPServer adds the hub and the HTTP server to the group. sched may be
// nil when the process does not trade.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	agg *service.Aggregator,
	sched *bot.Scheduler,
	pub domain.Publisher,
) error {
	policy, err := a.originPolicy()
	if err != nil {
		return err
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Markets: handler.NewMarketHandler(deps.Markets, agg, deps.History, deps.SnapshotCache, a.logger),
	}

	var status handler.StatusProvider
	if sched != nil {
		status = sched
	}
	var wallet handler.Wallet
	var resolver handler.Resolver
	if deps.Ledger.Address() != "" {
		wallet = deps.Ledger
		resolver = a.newResolutionService(deps, pub)
	}
	handlers.Bot = handler.NewBotHandler(status, wallet, a.logger)
	handlers.Resolve = handler.NewResolveHandler(resolver, a.logger)

	var trades domain.TradeStore
	var audit handler.AuditLister
	if deps.Trades != nil {
		trades = deps.Trades
		audit = deps.Audit
	}
	handlers.Journal = handler.NewJournalHandler(trades, audit, a.logger)

	var exporter server.Exporter
	if deps.Metrics != nil {
		exporter = deps.Metrics
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		Origins:          policy,
		AdminAPIKey:      a.cfg.Server.AdminAPIKey,
		MarketsRateLimit: a.cfg.Redis.RateLimit,
		ShutdownTimeout:  a.cfg.Server.ShutdownTimeout.Duration,
	}, handlers, deps.RateLimiter, hub, exporter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return nil
}
