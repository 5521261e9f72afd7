package domain

import (
	"context"
	"math/big"
	"time"
)

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash string `json:"hash"`
}

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	Success     bool   `json:"success"`
}

// MarketLedger is the read/write surface of the on-chain market contracts and
// the funding token. Every method is a blocking network call.
type MarketLedger interface {
	PoolTotals(ctx context.Context, m Market) (yes, no *big.Int, err error)
	IsResolved(ctx context.Context, m Market) (bool, error)
	// Outcome returns nil unless the market is resolved.
	Outcome(ctx context.Context, m Market) (*bool, error)
	Expiry(ctx context.Context, m Market) (time.Time, error)

	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
	SubmitApproval(ctx context.Context, owner, spender string, amount *big.Int) (TxHandle, error)
	// SubmitTrade buys amount whole token units of side in m.
	SubmitTrade(ctx context.Context, m Market, side Side, amount int64) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, tx TxHandle) (Receipt, error)
	SubmitResolution(ctx context.Context, m Market, outcomeYes bool) (TxHandle, error)
}
