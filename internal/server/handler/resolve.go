package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/service"
)

// Resolver settles a market on the ledger.
type Resolver interface {
	Resolve(ctx context.Context, marketID string, outcomeYes bool) (service.ResolutionResult, error)
}

// ResolveHandler serves the admin resolution endpoint.
type ResolveHandler struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewResolveHandler creates a ResolveHandler. A nil resolver makes the
// endpoint answer 503.
func NewResolveHandler(resolver Resolver, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, logger: logger}
}

// resolveRequest accepts marketId as either a JSON number or a string.
type resolveRequest struct {
	MarketID   json.RawMessage `json:"marketId"`
	OutcomeYes bool            `json:"outcomeYes"`
}

func (req resolveRequest) id() string {
	raw := bytes.TrimSpace(req.MarketID)
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

type resolveResponse struct {
	OK          bool   `json:"ok"`
	Tx          string `json:"tx"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Resolve settles a market and waits for the transaction to be mined.
// POST /api/resolve {"marketId": 1, "outcomeYes": true}
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution requires a configured wallet")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := req.id()
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing marketId")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), id, req.OutcomeYes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resolveResponse{OK: true, Tx: res.TxHash, BlockNumber: res.BlockNumber})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Unknown marketId")
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "market already resolved")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "resolution already in progress")
	default:
		h.logger.ErrorContext(r.Context(), "handler: resolve failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
