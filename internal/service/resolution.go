package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/notify"
)

const resolveLockTTL = 5 * time.Minute

// ResolutionResult describes a confirmed resolution.
type ResolutionResult struct {
	MarketID    string `json:"marketId"`
	OutcomeYes  bool   `json:"outcomeYes"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// ResolutionService settles markets on the ledger on behalf of the admin.
type ResolutionService struct {
	ledger  domain.MarketLedger
	markets map[string]domain.Market
	locks   domain.LockManager

	audit     domain.AuditStore
	notifier  *notify.Notifier
	publisher domain.Publisher
	logger    *slog.Logger
}

// NewResolutionService creates a ResolutionService for the given markets.
// locks guards against two concurrent resolutions of the same market.
func NewResolutionService(
	ledger domain.MarketLedger,
	markets []domain.Market,
	locks domain.LockManager,
	logger *slog.Logger,
) *ResolutionService {
	byID := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}
	return &ResolutionService{
		ledger:  ledger,
		markets: byID,
		locks:   locks,
		logger:  logger.With(slog.String("component", "resolution")),
	}
}

// SetAuditStore enables the audit trail.
func (s *ResolutionService) SetAuditStore(a domain.AuditStore) { s.audit = a }

// SetNotifier enables resolution alerts.
func (s *ResolutionService) SetNotifier(n *notify.Notifier) { s.notifier = n }

// SetPublisher enables resolution events on the markets channel.
func (s *ResolutionService) SetPublisher(p domain.Publisher) { s.publisher = p }

// Resolve submits the resolution of marketID and waits for the receipt.
// Unknown markets yield domain.ErrNotFound and already settled ones
// domain.ErrAlreadyResolved.
func (s *ResolutionService) Resolve(ctx context.Context, marketID string, outcomeYes bool) (ResolutionResult, error) {
	m, ok := s.markets[marketID]
	if !ok {
		return ResolutionResult{}, fmt.Errorf("resolution: market %q: %w", marketID, domain.ErrNotFound)
	}

	unlock, err := s.locks.Acquire(ctx, "resolve:"+m.ID, resolveLockTTL)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution: market %s: %w", m.ID, err)
	}
	defer unlock()

	resolved, err := s.ledger.IsResolved(ctx, m)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution: check market %s: %w", m.ID, err)
	}
	if resolved {
		return ResolutionResult{}, fmt.Errorf("resolution: market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}

	tx, err := s.ledger.SubmitResolution(ctx, m, outcomeYes)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution: submit market %s: %w", m.ID, err)
	}
	receipt, err := s.ledger.AwaitConfirmation(ctx, tx)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolution: confirm market %s tx %s: %w", m.ID, tx.Hash, err)
	}

	res := ResolutionResult{
		MarketID:    m.ID,
		OutcomeYes:  outcomeYes,
		TxHash:      tx.Hash,
		BlockNumber: receipt.BlockNumber,
	}
	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", m.ID),
		slog.Bool("outcome_yes", outcomeYes),
		slog.String("tx", tx.Hash),
	)
	s.record(ctx, m, res)
	return res, nil
}

func (s *ResolutionService) record(ctx context.Context, m domain.Market, res ResolutionResult) {
	ctx = context.WithoutCancel(ctx)

	if s.audit != nil {
		err := s.audit.Log(ctx, "market_resolved", map[string]any{
			"market_id":   res.MarketID,
			"contract":    m.Contract,
			"outcome_yes": res.OutcomeYes,
			"tx_hash":     res.TxHash,
			"block":       res.BlockNumber,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil {
		side := "NO"
		if res.OutcomeYes {
			side = "YES"
		}
		msg := fmt.Sprintf("%s (market %s) resolved %s\ntx %s", m.Name, m.ID, side, res.TxHash)
		_ = s.notifier.Notify(ctx, notify.EventResolved, "Market resolved", msg)
	}

	if s.publisher != nil {
		payload, err := json.Marshal(struct {
			Type string `json:"type"`
			ResolutionResult
		}{Type: "resolved", ResolutionResult: res})
		if err == nil {
			_ = s.publisher.Publish(ctx, domain.ChannelMarkets, payload)
		}
	}
}
