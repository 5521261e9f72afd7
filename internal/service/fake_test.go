package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errNode = errors.New("node unavailable")

type pool struct {
	yes, no  int64
	resolved bool
	outcome  bool
}

type fakeLedger struct {
	mu          sync.Mutex
	pools       map[string]pool
	failing     map[string]bool
	panics      map[string]bool
	delay       time.Duration
	resolutions []string
	confirmErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{pools: map[string]pool{}, failing: map[string]bool{}, panics: map[string]bool{}}
}

func (f *fakeLedger) get(ctx context.Context, m domain.Market) (pool, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return pool{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[m.ID] {
		panic("decode pool " + m.ID)
	}
	if f.failing[m.ID] {
		return pool{}, fmt.Errorf("%w: %w", domain.ErrTransientLedger, errNode)
	}
	return f.pools[m.ID], nil
}

func (f *fakeLedger) PoolTotals(ctx context.Context, m domain.Market) (*big.Int, *big.Int, error) {
	p, err := f.get(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return big.NewInt(p.yes), big.NewInt(p.no), nil
}

func (f *fakeLedger) IsResolved(ctx context.Context, m domain.Market) (bool, error) {
	p, err := f.get(ctx, m)
	return p.resolved, err
}

func (f *fakeLedger) Outcome(ctx context.Context, m domain.Market) (*bool, error) {
	p, err := f.get(ctx, m)
	if err != nil || !p.resolved {
		return nil, err
	}
	return &p.outcome, nil
}

func (f *fakeLedger) Expiry(context.Context, domain.Market) (time.Time, error) {
	return time.Now().Add(time.Hour), nil
}

func (f *fakeLedger) Allowance(context.Context, string, string) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeLedger) SubmitApproval(context.Context, string, string, *big.Int) (domain.TxHandle, error) {
	return domain.TxHandle{Hash: "0xa"}, nil
}

func (f *fakeLedger) SubmitTrade(context.Context, domain.Market, domain.Side, int64) (domain.TxHandle, error) {
	return domain.TxHandle{Hash: "0xb"}, nil
}

func (f *fakeLedger) AwaitConfirmation(_ context.Context, tx domain.TxHandle) (domain.Receipt, error) {
	if f.confirmErr != nil {
		return domain.Receipt{}, f.confirmErr
	}
	return domain.Receipt{Hash: tx.Hash, BlockNumber: 99, Success: true}, nil
}

func (f *fakeLedger) SubmitResolution(_ context.Context, m domain.Market, outcomeYes bool) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, m.ID)
	p := f.pools[m.ID]
	p.resolved, p.outcome = true, outcomeYes
	f.pools[m.ID] = p
	return domain.TxHandle{Hash: "0xres" + m.ID}, nil
}

type memBackend struct {
	mu    sync.Mutex
	saves []domain.HistorySnapshot
	err   error
}

func (b *memBackend) Load(context.Context) (domain.HistorySnapshot, error) {
	return domain.HistorySnapshot{}, nil
}

func (b *memBackend) Save(_ context.Context, snap domain.HistorySnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.saves = append(b.saves, snap)
	return nil
}

type capturePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

type memCache struct {
	snaps map[string]domain.MarketSnapshot
}

func (c *memCache) Set(_ context.Context, snaps []domain.MarketSnapshot) error {
	for _, s := range snaps {
		c.snaps[s.ID] = s
	}
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (domain.MarketSnapshot, error) {
	s, ok := c.snaps[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}
