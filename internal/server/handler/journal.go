package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// AuditLister reads the audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// JournalHandler serves the trade journal and the audit log.
type JournalHandler struct {
	trades domain.TradeStore
	audit  AuditLister
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler. Either store may be nil, in
// which case its endpoint answers 503.
func NewJournalHandler(trades domain.TradeStore, audit AuditLister, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{trades: trades, audit: audit, logger: logger}
}

// ListTrades returns the journaled bot trades of one market, newest first.
// GET /api/markets/{id}/trades?limit=50&offset=0&since=&until=
func (h *JournalHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	trades, err := h.trades.ListByMarket(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.BotTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0&since=&until=
func (h *JournalHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
