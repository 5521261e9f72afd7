package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/notify"
)

// DefaultInterval is the time between two trades on the same market.
const DefaultInterval = 60 * time.Second

const journalTimeout = 5 * time.Second

// TaskState is the lifecycle state of one market task.
type TaskState string

const (
	TaskStarting TaskState = "starting"
	TaskRunning  TaskState = "running"
	TaskStopped  TaskState = "stopped"
)

// TaskStatus is the runtime record of one market task. It is kept in memory
// only.
type TaskStatus struct {
	MarketID        string         `json:"marketId"`
	State           TaskState      `json:"state"`
	Approval        ApprovalStatus `json:"approval,omitempty"`
	ApprovalDone    bool           `json:"approvalDone"`
	LastExpiryCheck time.Time      `json:"lastExpiryCheck,omitzero"`
	LastTick        time.Time      `json:"lastTick,omitzero"`
	LastTx          string         `json:"lastTx,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	Ticks           int64          `json:"ticks"`
	Trades          int64          `json:"trades"`
	Skips           int64          `json:"skips"`
	Failures        int64          `json:"failures"`
}

// Metrics receives task outcomes. internal/metrics implements it.
type Metrics interface {
	ObserveApproval(marketID string, status ApprovalStatus)
	ObserveTick(marketID string, status TickStatus, amount int64, elapsed time.Duration)
}

// TradeEvent is published on domain.ChannelTrades after every tick that did
// something.
type TradeEvent struct {
	Type     string      `json:"type"`
	MarketID string      `json:"marketId"`
	Status   TickStatus  `json:"status"`
	Side     domain.Side `json:"side,omitempty"`
	Amount   int64       `json:"amount,omitempty"`
	TxHash   string      `json:"txHash,omitempty"`
	Error    string      `json:"error,omitempty"`
	Ts       int64       `json:"ts"`
}

type task struct {
	market domain.Market
	cancel context.CancelFunc

	mu     sync.Mutex
	status TaskStatus
}

func (t *task) update(fn func(*TaskStatus)) {
	t.mu.Lock()
	fn(&t.status)
	t.mu.Unlock()
}

func (t *task) snapshot() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Scheduler runs one independent trading task per market. A failure in one
// task never affects another.
type Scheduler struct {
	guard    *AllowanceGuard
	engine   *TradeEngine
	owner    string
	interval time.Duration
	now      func() time.Time

	publisher domain.Publisher
	trades    domain.TradeStore
	metrics   Metrics
	notifier  *notify.Notifier

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup

	logger *slog.Logger
}

// NewScheduler creates a Scheduler that trades from the owner wallet every
// interval (DefaultInterval if <= 0).
func NewScheduler(
	guard *AllowanceGuard,
	engine *TradeEngine,
	owner string,
	interval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		guard:    guard,
		engine:   engine,
		owner:    owner,
		interval: interval,
		now:      time.Now,
		tasks:    make(map[string]*task),
		logger:   logger.With(slog.String("component", "bot_scheduler")),
	}
}

// SetPublisher enables trade events.
func (s *Scheduler) SetPublisher(p domain.Publisher) { s.publisher = p }

// SetTradeStore enables the trade journal.
func (s *Scheduler) SetTradeStore(ts domain.TradeStore) { s.trades = ts }

// SetMetrics enables outcome metrics.
func (s *Scheduler) SetMetrics(m Metrics) { s.metrics = m }

// SetNotifier enables approval failure alerts.
func (s *Scheduler) SetNotifier(n *notify.Notifier) { s.notifier = n }

// Start launches a task for every market that does not have one yet. Tasks
// stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, markets []domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range markets {
		if _, ok := s.tasks[m.ID]; ok {
			continue
		}
		tctx, cancel := context.WithCancel(ctx)
		t := &task{
			market: m,
			cancel: cancel,
			status: TaskStatus{MarketID: m.ID, State: TaskStarting},
		}
		s.tasks[m.ID] = t

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(tctx, t)
		}()
	}
	s.logger.InfoContext(ctx, "bot tasks started",
		slog.Int("markets", len(markets)),
		slog.Duration("interval", s.interval),
		slog.String("wallet", s.owner),
	)
}

// Stop cancels every task and waits until all of them have exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Run starts the markets and blocks until ctx is done, then stops every task.
func (s *Scheduler) Run(ctx context.Context, markets []domain.Market) error {
	s.Start(ctx, markets)
	<-ctx.Done()
	s.Stop()
	s.logger.Info("bot tasks stopped")
	return nil
}

// Status returns the state of every task, ordered by market ID.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	m := t.market
	log := s.logger.With(slog.String("market_id", m.ID))
	defer t.update(func(st *TaskStatus) { st.State = TaskStopped })

	approval := s.ensureApproval(ctx, m)
	t.update(func(st *TaskStatus) {
		st.Approval = approval.Status
		st.ApprovalDone = approval.Status != ApprovalFailed
		if approval.Err != nil {
			st.LastError = approval.Err.Error()
		}
	})
	if s.metrics != nil {
		s.metrics.ObserveApproval(m.ID, approval.Status)
	}
	if approval.Err != nil {
		log.WarnContext(ctx, "approval failed", slog.String("error", approval.Err.Error()))
		if s.notifier != nil {
			msg := fmt.Sprintf("market %s (%s): %v", m.ID, m.Contract, approval.Err)
			_ = s.notifier.Notify(ctx, notify.EventApprovalFailed, "Bot approval failed", msg)
		}
	} else {
		log.InfoContext(ctx, "approval ok",
			slog.String("status", string(approval.Status)),
			slog.String("tx", approval.TxHash),
		)
	}

	if ctx.Err() != nil {
		return
	}
	t.update(func(st *TaskStatus) { st.State = TaskRunning })

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t, log)
		}
	}
}

func (s *Scheduler) ensureApproval(ctx context.Context, m domain.Market) (out ApprovalOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(fmt.Errorf("bot: approval panic: %v", r))
		}
	}()
	return s.guard.Ensure(ctx, s.owner, m.Contract, big.NewInt(1))
}

func (s *Scheduler) tick(ctx context.Context, t *task, log *slog.Logger) {
	tctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	start := s.now()
	out := s.safeTick(tctx, t.market)
	elapsed := s.now().Sub(start)

	t.update(func(st *TaskStatus) {
		st.Ticks++
		st.LastTick = start
		st.LastExpiryCheck = start
		switch out.Status {
		case TickTraded:
			st.Trades++
			st.LastTx = out.TxHash
			st.LastError = ""
		case TickSkippedExpired:
			st.Skips++
		case TickFailed:
			st.Failures++
			st.LastError = out.Err.Error()
		}
	})
	if s.metrics != nil {
		s.metrics.ObserveTick(t.market.ID, out.Status, out.Amount, elapsed)
	}

	switch out.Status {
	case TickTraded:
		log.InfoContext(ctx, "trade placed",
			slog.String("side", string(out.Side)),
			slog.Int64("amount", out.Amount),
			slog.String("tx", out.TxHash),
			slog.Uint64("block", out.Receipt.BlockNumber),
		)
	case TickSkippedExpired:
		log.DebugContext(ctx, "market expired, tick skipped")
		return
	case TickFailed:
		log.WarnContext(ctx, "tick failed", slog.String("error", out.Err.Error()))
	}

	s.journal(ctx, t.market, out, start)
	s.publish(ctx, t.market, out, start)
}

func (s *Scheduler) safeTick(ctx context.Context, m domain.Market) (out TickOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = TickOutcome{Status: TickFailed, Err: fmt.Errorf("bot: tick panic: %v", r)}
		}
	}()
	return s.engine.Tick(ctx, m)
}

func (s *Scheduler) journal(ctx context.Context, m domain.Market, out TickOutcome, at time.Time) {
	if s.trades == nil || out.Side == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	rec := domain.BotTrade{
		ID:          uuid.NewString(),
		MarketID:    m.ID,
		Side:        out.Side,
		Amount:      out.Amount,
		TxHash:      out.TxHash,
		BlockNumber: out.Receipt.BlockNumber,
		Status:      domain.TradeConfirmed,
		CreatedAt:   at.UTC(),
	}
	if out.Status == TickFailed {
		rec.Status = domain.TradeFailed
		rec.Error = out.Err.Error()
	}
	if err := s.trades.Insert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "journal trade failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) publish(ctx context.Context, m domain.Market, out TickOutcome, at time.Time) {
	if s.publisher == nil {
		return
	}
	ev := TradeEvent{
		Type:     "trade",
		MarketID: m.ID,
		Status:   out.Status,
		Side:     out.Side,
		Amount:   out.Amount,
		TxHash:   out.TxHash,
		Ts:       at.UnixMilli(),
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), domain.ChannelTrades, payload); err != nil {
		s.logger.DebugContext(ctx, "publish trade event failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
