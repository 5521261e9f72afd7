package bot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// Rand is the randomness the engine draws trade size and side from.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
	Float64() float64
}

// globalRand uses the package-level math/rand/v2 source, which is safe for
// concurrent use by every market task.
type globalRand struct{}

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }
func (globalRand) Float64() float64     { return rand.Float64() }

// TickStatus is the result class of one engine tick.
type TickStatus string

const (
	TickTraded         TickStatus = "traded"
	TickSkippedExpired TickStatus = "skipped_expired"
	TickFailed         TickStatus = "failed"
)

// TickOutcome reports what one tick did.
type TickOutcome struct {
	Status  TickStatus
	Side    domain.Side
	Amount  int64
	TxHash  string
	Receipt domain.Receipt
	Err     error
}

// TradeEngine places one randomized trade into a market per tick.
type TradeEngine struct {
	ledger domain.MarketLedger
	rnd    Rand
	now    func() time.Time
}

// NewTradeEngine creates a TradeEngine. rnd and now may be nil, selecting the
// shared math/rand/v2 source and time.Now.
func NewTradeEngine(ledger domain.MarketLedger, rnd Rand, now func() time.Time) *TradeEngine {
	if rnd == nil {
		rnd = globalRand{}
	}
	if now == nil {
		now = time.Now
	}
	return &TradeEngine{ledger: ledger, rnd: rnd, now: now}
}

// Tick checks the market's on-chain expiry and, if the market is still open,
// buys a random amount into a random side and waits for the receipt.
func (e *TradeEngine) Tick(ctx context.Context, m domain.Market) TickOutcome {
	expiry, err := e.ledger.Expiry(ctx, m)
	if err != nil {
		return TickOutcome{Status: TickFailed, Err: fmt.Errorf("bot: read expiry: %w", err)}
	}
	if !e.now().Before(expiry) {
		return TickOutcome{Status: TickSkippedExpired}
	}

	out := TickOutcome{
		Amount: e.drawAmount(m),
		Side:   e.drawSide(m),
	}

	tx, err := e.ledger.SubmitTrade(ctx, m, out.Side, out.Amount)
	if err != nil {
		out.Status = TickFailed
		out.Err = fmt.Errorf("bot: submit %s trade: %w", out.Side, err)
		return out
	}
	out.TxHash = tx.Hash

	receipt, err := e.ledger.AwaitConfirmation(ctx, tx)
	if err != nil {
		out.Status = TickFailed
		out.Err = fmt.Errorf("bot: confirm trade %s: %w", tx.Hash, err)
		return out
	}
	out.Status = TickTraded
	out.Receipt = receipt
	return out
}

// drawAmount returns a uniform integer in the market's inclusive trade range.
func (e *TradeEngine) drawAmount(m domain.Market) int64 {
	lo, hi := m.TradeBounds()
	return lo + e.rnd.Int64N(hi-lo+1)
}

// drawSide picks YES with probability InitialYesProb.
func (e *TradeEngine) drawSide(m domain.Market) domain.Side {
	if e.rnd.Float64() < m.InitialYesProb {
		return domain.SideYes
	}
	return domain.SideNo
}
