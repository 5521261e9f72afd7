package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// Collector runs aggregation passes and single-market reads.
type Collector interface {
	Collect(ctx context.Context, markets []domain.Market) []domain.MarketSnapshot
	Snapshot(ctx context.Context, m domain.Market) domain.MarketSnapshot
}

// HistoryReader serves the stored series of one market.
type HistoryReader interface {
	Read(marketID string) []domain.HistoryPoint
}

// MarketHandler serves the market snapshot and history endpoints.
type MarketHandler struct {
	markets   []domain.Market
	collector Collector
	history   HistoryReader
	cache     domain.SnapshotCache
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the configured markets.
// cache may be nil.
func NewMarketHandler(markets []domain.Market, collector Collector, history HistoryReader, cache domain.SnapshotCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:   markets,
		collector: collector,
		history:   history,
		cache:     cache,
		logger:    logger,
	}
}

// ListMarkets reads every market from the ledger, records one history sample
// each and returns the snapshots. Unreadable markets appear with zero
// totals.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	if len(h.markets) == 0 {
		writeError(w, http.StatusBadRequest, "no markets configured")
		return
	}
	writeJSON(w, http.StatusOK, h.collector.Collect(r.Context(), h.markets))
}

// GetMarket returns the latest cached snapshot of one market, reading it
// from the ledger when the cache has nothing. It never records history.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown market")
		return
	}

	if h.cache != nil {
		snap, err := h.cache.Get(r.Context(), m.ID)
		if err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: snapshot cache read failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, h.collector.Snapshot(r.Context(), m))
}

// GetHistory returns the stored series of one market with derived
// percentages, oldest first. Unknown markets yield an empty list.
// GET /api/markets/{id}/history
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.history.Read(r.PathValue("id")))
}

func (h *MarketHandler) lookup(id string) (domain.Market, bool) {
	for _, m := range h.markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}
