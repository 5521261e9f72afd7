package bot

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

type trade struct {
	marketID string
	side     domain.Side
	amount   int64
}

// fakeLedger is an in-memory MarketLedger. Markets listed in failing return
// errors from every call.
type fakeLedger struct {
	mu         sync.Mutex
	expiry     map[string]time.Time
	allowances map[string]*big.Int
	failing    map[string]bool
	approveErr error
	confirmErr error
	panicOn    map[string]bool

	approvals int
	trades    []trade
	txSeq     int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		expiry:     map[string]time.Time{},
		allowances: map[string]*big.Int{},
		failing:    map[string]bool{},
		panicOn:    map[string]bool{},
	}
}

var errNode = errors.New("node unavailable")

func (f *fakeLedger) PoolTotals(context.Context, domain.Market) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

func (f *fakeLedger) IsResolved(context.Context, domain.Market) (bool, error) { return false, nil }

func (f *fakeLedger) Outcome(context.Context, domain.Market) (*bool, error) { return nil, nil }

func (f *fakeLedger) Expiry(_ context.Context, m domain.Market) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn[m.ID] {
		panic("boom")
	}
	if f.failing[m.ID] {
		return time.Time{}, fmt.Errorf("%w: %w", domain.ErrTransientLedger, errNode)
	}
	exp, ok := f.expiry[m.ID]
	if !ok {
		return time.Now().Add(time.Hour), nil
	}
	return exp, nil
}

func (f *fakeLedger) Allowance(_ context.Context, owner, spender string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.allowances[owner+"/"+spender]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (f *fakeLedger) SubmitApproval(_ context.Context, owner, spender string, amount *big.Int) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return domain.TxHandle{}, f.approveErr
	}
	f.approvals++
	f.allowances[owner+"/"+spender] = new(big.Int).Set(amount)
	return f.nextTx(), nil
}

func (f *fakeLedger) SubmitTrade(_ context.Context, m domain.Market, side domain.Side, amount int64) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[m.ID] {
		return domain.TxHandle{}, errNode
	}
	f.trades = append(f.trades, trade{marketID: m.ID, side: side, amount: amount})
	return f.nextTx(), nil
}

func (f *fakeLedger) AwaitConfirmation(_ context.Context, tx domain.TxHandle) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return domain.Receipt{}, f.confirmErr
	}
	return domain.Receipt{Hash: tx.Hash, BlockNumber: uint64(f.txSeq), Success: true}, nil
}

func (f *fakeLedger) SubmitResolution(context.Context, domain.Market, bool) (domain.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextTx(), nil
}

func (f *fakeLedger) nextTx() domain.TxHandle {
	f.txSeq++
	return domain.TxHandle{Hash: fmt.Sprintf("0x%064x", f.txSeq)}
}

func (f *fakeLedger) tradesFor(marketID string) []trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []trade
	for _, t := range f.trades {
		if t.marketID == marketID {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeLedger) approvalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals
}

var _ domain.MarketLedger = (*fakeLedger)(nil)
