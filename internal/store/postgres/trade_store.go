package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id::text, market_id, side, amount, COALESCE(tx_hash, ''),
	COALESCE(block_number, 0), status, COALESCE(error, ''), created_at`

func scanTrade(row pgx.CollectableRow) (domain.BotTrade, error) {
	var (
		t     domain.BotTrade
		side  string
		block int64
	)
	err := row.Scan(&t.ID, &t.MarketID, &side, &t.Amount, &t.TxHash, &block, &t.Status, &t.Error, &t.CreatedAt)
	t.Side = domain.Side(side)
	t.BlockNumber = uint64(block)
	return t, err
}

// Insert journals one trade attempt. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.BotTrade) error {
	const query = `
		INSERT INTO bot_trades (
			id, market_id, side, amount, tx_hash,
			block_number, status, error, created_at
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''),
			NULLIF($6, 0), $7, NULLIF($8, ''), $9
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, string(t.Side), t.Amount, t.TxHash,
		int64(t.BlockNumber), string(t.Status), t.Error, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns trades for a given market with pagination and
// optional time filtering, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.BotTrade, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM bot_trades WHERE market_id = $1`,
		"created_at", []any{marketID}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	trades, err := pgx.CollectRows(rows, scanTrade)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBetween returns trades created in [since, until), oldest first.
func (s *TradeStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.BotTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM bot_trades
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades between: %w", err)
	}
	trades, err := pgx.CollectRows(rows, scanTrade)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades between: %w", err)
	}
	return trades, nil
}
