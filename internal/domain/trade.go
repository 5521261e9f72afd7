package domain

import "time"

// TradeStatus is the final state of a journaled trade attempt.
type TradeStatus string

const (
	TradeConfirmed TradeStatus = "confirmed"
	TradeFailed    TradeStatus = "failed"
)

// BotTrade is one simulated trade placed by the scheduler.
type BotTrade struct {
	ID          string      `json:"id"`
	MarketID    string      `json:"marketId"`
	Side        Side        `json:"side"`
	Amount      int64       `json:"amount"`
	TxHash      string      `json:"txHash,omitempty"`
	BlockNumber uint64      `json:"blockNumber,omitempty"`
	Status      TradeStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}
