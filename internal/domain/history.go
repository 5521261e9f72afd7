package domain

import (
	"context"
	"math/big"
	"time"
)

// HistorySample is one time-stamped reading of a market's pool totals.
type HistorySample struct {
	Timestamp time.Time
	YesTotal  *big.Int
	NoTotal   *big.Int
}

// HistoryPoint is a sample enriched with the derived side percentages.
type HistoryPoint struct {
	Timestamp int64   `json:"ts"`
	YesTotal  string  `json:"yesTotal"`
	NoTotal   string  `json:"noTotal"`
	YesPct    float64 `json:"yesPct"`
	NoPct     float64 `json:"noPct"`
}

// HistorySnapshot maps a market ID to its ordered samples, oldest first.
type HistorySnapshot map[string][]HistorySample

// HistoryBackend is the durable mirror of the in-memory history. Save always
// receives the full state and replaces whatever was stored before.
type HistoryBackend interface {
	Load(ctx context.Context) (HistorySnapshot, error)
	Save(ctx context.Context, snap HistorySnapshot) error
}
