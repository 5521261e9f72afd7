// Package sqlite provides a single-file durable mirror for market history
// backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS history_samples (
	market_id TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	ts_ms     INTEGER NOT NULL,
	yes_total TEXT    NOT NULL,
	no_total  TEXT    NOT NULL,
	PRIMARY KEY (market_id, seq)
);`

// HistoryBackend implements domain.HistoryBackend on a SQLite database.
// Every Save replaces the table contents inside one transaction.
type HistoryBackend struct {
	db *sql.DB
}

var _ domain.HistoryBackend = (*HistoryBackend)(nil)

// Open creates or opens the database at path with WAL mode enabled and
// ensures the schema exists.
func Open(path string) (*HistoryBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Writes are serialized by the history store; one connection keeps the
	// file lock simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &HistoryBackend{db: db}, nil
}

// Close releases the database handle.
func (b *HistoryBackend) Close() error {
	return b.db.Close()
}

// Load reads every stored series in insertion order.
func (b *HistoryBackend) Load(ctx context.Context) (domain.HistorySnapshot, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT market_id, ts_ms, yes_total, no_total FROM history_samples ORDER BY market_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load history: %w", err)
	}
	defer rows.Close()

	snap := domain.HistorySnapshot{}
	for rows.Next() {
		var (
			id      string
			tsMs    int64
			yes, no string
		)
		if err := rows.Scan(&id, &tsMs, &yes, &no); err != nil {
			return nil, fmt.Errorf("sqlite: scan history row: %w", err)
		}
		yesN, err := parseTotal(yes)
		if err != nil {
			return nil, fmt.Errorf("sqlite: market %s: yes total: %w", id, err)
		}
		noN, err := parseTotal(no)
		if err != nil {
			return nil, fmt.Errorf("sqlite: market %s: no total: %w", id, err)
		}
		snap[id] = append(snap[id], domain.HistorySample{
			Timestamp: time.UnixMilli(tsMs),
			YesTotal:  yesN,
			NoTotal:   noN,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate history: %w", err)
	}
	return snap, nil
}

// Save replaces the stored history with snap.
func (b *HistoryBackend) Save(ctx context.Context, snap domain.HistorySnapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM history_samples`); err != nil {
		return fmt.Errorf("sqlite: clear history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history_samples (market_id, seq, ts_ms, yes_total, no_total) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, series := range snap {
		for i, s := range series {
			if _, err = stmt.ExecContext(ctx, id, i, s.Timestamp.UnixMilli(), totalString(s.YesTotal), totalString(s.NoTotal)); err != nil {
				return fmt.Errorf("sqlite: insert %s/%d: %w", id, i, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func parseTotal(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func totalString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
