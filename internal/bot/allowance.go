// Package bot runs the autonomous per-market trading tasks: one-time token
// approval followed by a randomized trade on every tick until the market
// expires.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// ApprovalStatus is the result class of an AllowanceGuard.Ensure call.
type ApprovalStatus string

const (
	ApprovalSufficient ApprovalStatus = "sufficient"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalFailed     ApprovalStatus = "failed"
)

// ApprovalOutcome reports what Ensure did. Err is set only when Status is
// ApprovalFailed and always wraps domain.ErrApprovalFailed.
type ApprovalOutcome struct {
	Status    ApprovalStatus
	Allowance *big.Int
	TxHash    string
	Err       error
}

// AllowanceGuard makes sure a spender may pull the funding token from the bot
// wallet.
type AllowanceGuard struct {
	ledger domain.MarketLedger
	logger *slog.Logger
}

// NewAllowanceGuard creates an AllowanceGuard.
func NewAllowanceGuard(ledger domain.MarketLedger, logger *slog.Logger) *AllowanceGuard {
	return &AllowanceGuard{
		ledger: ledger,
		logger: logger.With(slog.String("component", "allowance_guard")),
	}
}

// Ensure checks the current allowance of owner for spender and, if it is below
// minRequired, approves the maximum uint256 and waits for confirmation. It
// never returns an error directly; failures are reported in the outcome.
func (g *AllowanceGuard) Ensure(ctx context.Context, owner, spender string, minRequired *big.Int) ApprovalOutcome {
	current, err := g.ledger.Allowance(ctx, owner, spender)
	if err != nil {
		return failed(fmt.Errorf("bot: read allowance: %w", err))
	}
	if current.Cmp(minRequired) >= 0 {
		return ApprovalOutcome{Status: ApprovalSufficient, Allowance: current}
	}

	amount := new(big.Int).Set(math.MaxBig256)
	tx, err := g.ledger.SubmitApproval(ctx, owner, spender, amount)
	if err != nil {
		return failed(fmt.Errorf("bot: submit approval: %w", err))
	}
	g.logger.InfoContext(ctx, "approval submitted",
		slog.String("spender", spender),
		slog.String("tx", tx.Hash),
	)

	if _, err := g.ledger.AwaitConfirmation(ctx, tx); err != nil {
		out := failed(fmt.Errorf("bot: confirm approval %s: %w", tx.Hash, err))
		out.TxHash = tx.Hash
		return out
	}
	return ApprovalOutcome{Status: ApprovalApproved, Allowance: amount, TxHash: tx.Hash}
}

func failed(err error) ApprovalOutcome {
	return ApprovalOutcome{
		Status: ApprovalFailed,
		Err:    fmt.Errorf("%w: %w", domain.ErrApprovalFailed, err),
	}
}
