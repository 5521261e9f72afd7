package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// TradeArchiveStore provides read access to the trade journal for archival.
type TradeArchiveStore interface {
	// ListBetween returns trades created in [since, until), oldest first.
	ListBetween(ctx context.Context, since, until time.Time) ([]domain.BotTrade, error)
}

// Archiver exports one UTC day of the trade journal at a time to
// archive/bot_trades/YYYY-MM-DD.jsonl. Rows are not deleted from the
// journal.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates a new Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveDay uploads the trades of the UTC day containing day and returns
// how many were written. A day without trades uploads nothing.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	since := day.UTC().Truncate(24 * time.Hour)
	until := since.Add(24 * time.Hour)

	trades, err := a.trades.ListBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("bot_trades", since)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.bot_trades", map[string]any{
			"path":  path,
			"count": count,
			"day":   since.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

// Run archives the previous UTC day immediately and then once per day until
// ctx is cancelled. Failures are logged and retried on the next cycle.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		yesterday := a.now().UTC().Add(-24 * time.Hour)
		n, err := a.ArchiveDay(ctx, yesterday)
		if err != nil {
			a.logger.Warn("trade archive failed",
				slog.String("day", yesterday.Format(time.DateOnly)),
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			a.logger.Info("trades archived",
				slog.String("day", yesterday.Format(time.DateOnly)),
				slog.Int64("count", n),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by day.
//
//	archive/bot_trades/2026-10-15.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format(time.DateOnly))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
