package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/poolbot/internal/bot"
	"github.com/alanyoungcy/poolbot/internal/platform/chain"
)

// StatusProvider reports the per-market trading tasks.
type StatusProvider interface {
	Status() []bot.TaskStatus
}

// Wallet exposes the bot wallet's identity and funding balance.
type Wallet interface {
	Address() string
	Decimals() int32
	TokenBalance(ctx context.Context, owner string) (*big.Int, error)
}

// BotHandler serves the trading bot status endpoint.
type BotHandler struct {
	status StatusProvider
	wallet Wallet
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler. Either dependency may be nil when the
// process runs without the scheduler or without a wallet.
func NewBotHandler(status StatusProvider, wallet Wallet, logger *slog.Logger) *BotHandler {
	return &BotHandler{status: status, wallet: wallet, logger: logger}
}

type botStatusResponse struct {
	Running    bool             `json:"running"`
	Address    string           `json:"address,omitempty"`
	Balance    string           `json:"balance,omitempty"`
	BalanceRaw string           `json:"balanceRaw,omitempty"`
	Tasks      []bot.TaskStatus `json:"tasks"`
}

// GetStatus returns the wallet address, its token balance and the state of
// every market task.
// GET /api/bot/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := botStatusResponse{Tasks: []bot.TaskStatus{}}
	if h.status != nil {
		resp.Running = true
		resp.Tasks = h.status.Status()
	}

	if h.wallet != nil {
		resp.Address = h.wallet.Address()
		bal, err := h.wallet.TokenBalance(r.Context(), resp.Address)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: token balance read failed",
				slog.String("error", err.Error()),
			)
		} else {
			resp.BalanceRaw = bal.String()
			resp.Balance = chain.FromBaseUnits(bal, h.wallet.Decimals()).String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
