// Package history keeps a bounded time series of pool totals per market and
// mirrors it to a durable backend.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// DefaultCapacity is the number of samples retained per market.
const DefaultCapacity = 500

var hundred = decimal.NewFromInt(100)

// Store is the in-memory history of every market. Appends come from a single
// writer (the aggregator); reads may run concurrently and always observe a
// consistent per-market series.
type Store struct {
	mu       sync.RWMutex
	series   map[string][]domain.HistorySample
	capacity int

	// persistMu orders Persist calls so an older snapshot never overwrites a
	// newer one in the backend.
	persistMu sync.Mutex
	backend   domain.HistoryBackend
	logger    *slog.Logger
}

// NewStore creates an empty Store. A capacity <= 0 selects DefaultCapacity.
// backend may be nil, in which case Load and Persist are no-ops.
func NewStore(backend domain.HistoryBackend, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		series:   make(map[string][]domain.HistorySample),
		capacity: capacity,
		backend:  backend,
		logger:   logger.With(slog.String("component", "history")),
	}
}

// Capacity returns the per-market sample cap.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds sample to the end of the market's series, evicting the oldest
// entries once the cap is exceeded.
func (s *Store) Append(marketID string, sample domain.HistorySample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := append(s.series[marketID], sample)
	if over := len(series) - s.capacity; over > 0 {
		series = series[over:]
	}
	s.series[marketID] = series
}

// Len returns the number of samples held for marketID.
func (s *Store) Len(marketID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[marketID])
}

// Read returns the market's samples, oldest first, with the derived
// percentages computed per entry. Unknown markets yield an empty slice.
func (s *Store) Read(marketID string) []domain.HistoryPoint {
	s.mu.RLock()
	samples := s.series[marketID]
	points := make([]domain.HistoryPoint, len(samples))
	for i, smp := range samples {
		points[i] = Project(smp)
	}
	s.mu.RUnlock()
	return points
}

// Snapshot returns a copy of every series.
func (s *Store) Snapshot() domain.HistorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(domain.HistorySnapshot, len(s.series))
	for id, series := range s.series {
		cp := make([]domain.HistorySample, len(series))
		copy(cp, series)
		out[id] = cp
	}
	return out
}

// Load replaces the in-memory state with what the backend holds. Series longer
// than the cap are trimmed to their newest entries.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("history: load: %w", err)
	}

	loaded := make(map[string][]domain.HistorySample, len(snap))
	total := 0
	for id, series := range snap {
		if over := len(series) - s.capacity; over > 0 {
			series = series[over:]
		}
		loaded[id] = series
		total += len(series)
	}

	s.mu.Lock()
	s.series = loaded
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "history loaded",
		slog.Int("markets", len(loaded)),
		slog.Int("samples", total),
	)
	return nil
}

// Persist writes the full current state to the backend.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.backend.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("history: persist: %w", err)
	}
	return nil
}

// Project derives the display point for one sample.
func Project(smp domain.HistorySample) domain.HistoryPoint {
	yesPct, noPct := Percentages(smp.YesTotal, smp.NoTotal)
	return domain.HistoryPoint{
		Timestamp: smp.Timestamp.UnixMilli(),
		YesTotal:  amountString(smp.YesTotal),
		NoTotal:   amountString(smp.NoTotal),
		YesPct:    yesPct,
		NoPct:     noPct,
	}
}

// Percentages returns the share of each pool in percent. An empty market is
// reported as an even 50/50 split.
func Percentages(yes, no *big.Int) (yesPct, noPct float64) {
	y := decimal.NewFromBigInt(orZero(yes), 0)
	n := decimal.NewFromBigInt(orZero(no), 0)
	total := y.Add(n)
	if !total.IsPositive() {
		return 50, 50
	}
	yesPct = y.Div(total).Mul(hundred).InexactFloat64()
	return yesPct, 100 - yesPct
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

func amountString(n *big.Int) string {
	return orZero(n).String()
}
