package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/history"
)

const (
	defaultReadConcurrency = 8
	defaultReadTimeout     = 10 * time.Second
	persistTimeout         = 15 * time.Second
)

// AggregatorMetrics receives pass-level measurements. internal/metrics
// implements it.
type AggregatorMetrics interface {
	ObserveCollect(degraded []string, elapsed time.Duration)
	ObservePersistError()
}

// PersistFailureHook is called when the history could not be persisted.
type PersistFailureHook func(ctx context.Context, err error)

// MarketsEvent is published on domain.ChannelMarkets after every pass.
type MarketsEvent struct {
	Type    string                  `json:"type"`
	Ts      int64                   `json:"ts"`
	Markets []domain.MarketSnapshot `json:"markets"`
}

// Aggregator reads the current state of every market, records one history
// sample per market and returns the snapshots.
type Aggregator struct {
	ledger      domain.MarketLedger
	history     *history.Store
	concurrency int
	readTimeout time.Duration
	now         func() time.Time

	cache     domain.SnapshotCache
	publisher domain.Publisher
	metrics   AggregatorMetrics
	onPersist PersistFailureHook

	// passMu makes passes run one at a time so each series stays in
	// timestamp order.
	passMu sync.Mutex
	logger *slog.Logger
}

// NewAggregator creates an Aggregator. concurrency and readTimeout fall back
// to defaults when <= 0.
func NewAggregator(
	ledger domain.MarketLedger,
	store *history.Store,
	concurrency int,
	readTimeout time.Duration,
	logger *slog.Logger,
) *Aggregator {
	if concurrency <= 0 {
		concurrency = defaultReadConcurrency
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Aggregator{
		ledger:      ledger,
		history:     store,
		concurrency: concurrency,
		readTimeout: readTimeout,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "aggregator")),
	}
}

// SetCache enables writing snapshots to the snapshot cache.
func (a *Aggregator) SetCache(c domain.SnapshotCache) { a.cache = c }

// SetPublisher enables market events.
func (a *Aggregator) SetPublisher(p domain.Publisher) { a.publisher = p }

// SetMetrics enables pass metrics.
func (a *Aggregator) SetMetrics(m AggregatorMetrics) { a.metrics = m }

// OnPersistFailure registers a hook for failed persists.
func (a *Aggregator) OnPersistFailure(fn PersistFailureHook) { a.onPersist = fn }

type readResult struct {
	snap    domain.MarketSnapshot
	yes, no *big.Int
}

// Collect reads every market, substituting a zeroed snapshot for any market
// that cannot be read, appends one sample per market to the history and
// persists it before returning. The result is in the order of markets.
//
// A pass is not interrupted by ctx: reads are bounded by the read timeout
// only, so a caller going away never turns healthy markets into zero
// samples.
func (a *Aggregator) Collect(ctx context.Context, markets []domain.Market) []domain.MarketSnapshot {
	ctx = context.WithoutCancel(ctx)
	a.passMu.Lock()
	defer a.passMu.Unlock()

	start := a.now()
	results := make([]readResult, len(markets))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, m := range markets {
		g.Go(func() error {
			results[i] = a.safeRead(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	ts := a.now()
	snaps := make([]domain.MarketSnapshot, len(results))
	var degraded []string
	for i, r := range results {
		snaps[i] = r.snap
		if r.snap.Degraded {
			degraded = append(degraded, r.snap.ID)
		}
		a.history.Append(r.snap.ID, domain.HistorySample{
			Timestamp: ts,
			YesTotal:  r.yes,
			NoTotal:   r.no,
		})
	}

	a.persist(ctx)
	a.fanOut(ctx, snaps, ts)

	elapsed := a.now().Sub(start)
	if a.metrics != nil {
		a.metrics.ObserveCollect(degraded, elapsed)
	}
	a.logger.DebugContext(ctx, "collect pass done",
		slog.Int("markets", len(snaps)),
		slog.Int("degraded", len(degraded)),
		slog.Duration("elapsed", elapsed),
	)
	return snaps
}

// Snapshot reads the current state of one market without touching the
// history. An unreadable market yields a zeroed snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, m domain.Market) domain.MarketSnapshot {
	return a.safeRead(context.WithoutCancel(ctx), m).snap
}

// Run performs a pass immediately and then once per interval until ctx is
// done.
func (a *Aggregator) Run(ctx context.Context, markets []domain.Market, interval time.Duration) error {
	a.logger.InfoContext(ctx, "aggregator polling started",
		slog.Int("markets", len(markets)),
		slog.Duration("interval", interval),
	)
	a.Collect(ctx, markets)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Collect(ctx, markets)
		}
	}
}

func (a *Aggregator) safeRead(ctx context.Context, m domain.Market) (res readResult) {
	defer func() {
		if r := recover(); r != nil {
			res = a.degrade(ctx, m, "panic", fmt.Errorf("service: market read panic: %v", r))
		}
	}()
	return a.read(ctx, m)
}

func (a *Aggregator) read(ctx context.Context, m domain.Market) readResult {
	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	yes, no, err := a.ledger.PoolTotals(ctx, m)
	if err != nil {
		return a.degrade(ctx, m, "pool totals", err)
	}
	resolved, err := a.ledger.IsResolved(ctx, m)
	if err != nil {
		return a.degrade(ctx, m, "resolved", err)
	}
	var outcome *bool
	if resolved {
		if outcome, err = a.ledger.Outcome(ctx, m); err != nil {
			return a.degrade(ctx, m, "outcome", err)
		}
	}
	return readResult{
		snap: domain.NewSnapshot(m, yes, no, resolved, outcome),
		yes:  yes,
		no:   no,
	}
}

func (a *Aggregator) degrade(ctx context.Context, m domain.Market, what string, err error) readResult {
	a.logger.WarnContext(ctx, "market read failed, using zeroed snapshot",
		slog.String("market_id", m.ID),
		slog.String("read", what),
		slog.String("error", err.Error()),
	)
	return readResult{snap: domain.ZeroSnapshot(m), yes: new(big.Int), no: new(big.Int)}
}

func (a *Aggregator) persist(ctx context.Context) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := a.history.Persist(pctx)
	if err == nil {
		return
	}
	a.logger.ErrorContext(ctx, "history persist failed", slog.String("error", err.Error()))
	if a.metrics != nil {
		a.metrics.ObservePersistError()
	}
	if a.onPersist != nil {
		a.onPersist(pctx, err)
	}
}

func (a *Aggregator) fanOut(ctx context.Context, snaps []domain.MarketSnapshot, ts time.Time) {
	if a.cache != nil {
		if err := a.cache.Set(ctx, snaps); err != nil {
			a.logger.WarnContext(ctx, "snapshot cache set failed", slog.String("error", err.Error()))
		}
	}
	if a.publisher == nil {
		return
	}
	payload, err := json.Marshal(MarketsEvent{Type: "markets", Ts: ts.UnixMilli(), Markets: snaps})
	if err != nil {
		return
	}
	if err := a.publisher.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		a.logger.DebugContext(ctx, "publish markets event failed", slog.String("error", err.Error()))
	}
}
