package domain

import (
	"math/big"
	"time"
)

// Default trade bounds and side bias applied when a market entry leaves them
// unset.
const (
	DefaultMinTrade       int64   = 1
	DefaultMaxTrade       int64   = 10
	DefaultInitialYesProb float64 = 0.5
)

// Side is the pool a trade is placed into.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Market is one deployed pool market. It is loaded once at startup and never
// mutated afterwards.
type Market struct {
	ID             string    `json:"id"`
	Contract       string    `json:"contract"`
	Name           string    `json:"name"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	Expiry         time.Time `json:"expiry"`
	MinTrade       int64     `json:"minTrade"`
	MaxTrade       int64     `json:"maxTrade"`
	InitialYesProb float64   `json:"initialYesProb"`
}

// Expired reports whether now is at or past the market's expiry.
func (m Market) Expired(now time.Time) bool {
	return !now.Before(m.Expiry)
}

// TradeBounds returns the inclusive trade size range, falling back to the
// defaults for unset bounds.
func (m Market) TradeBounds() (min, max int64) {
	min, max = m.MinTrade, m.MaxTrade
	if min <= 0 {
		min = DefaultMinTrade
	}
	if max <= 0 {
		max = DefaultMaxTrade
	}
	if max < min {
		max = min
	}
	return min, max
}

// MarketSnapshot is the aggregator's read of one market at one point in time.
// Totals are raw base-unit amounts encoded as decimal strings.
type MarketSnapshot struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Question   string `json:"question"`
	Contract   string `json:"contract"`
	Expiry     int64  `json:"expiry"`
	YesTotal   string `json:"yesTotal"`
	NoTotal    string `json:"noTotal"`
	Resolved   bool   `json:"resolved"`
	OutcomeYes *bool  `json:"outcomeYes"`

	// Degraded is set when the ledger read failed and the totals were zeroed.
	Degraded bool `json:"-"`
}

// NewSnapshot builds a snapshot for m from the observed pool state.
func NewSnapshot(m Market, yes, no *big.Int, resolved bool, outcomeYes *bool) MarketSnapshot {
	return MarketSnapshot{
		ID:         m.ID,
		Slug:       m.Slug,
		Name:       m.Name,
		Question:   m.Question,
		Contract:   m.Contract,
		Expiry:     m.Expiry.Unix(),
		YesTotal:   bigString(yes),
		NoTotal:    bigString(no),
		Resolved:   resolved,
		OutcomeYes: outcomeYes,
	}
}

// ZeroSnapshot is the substitute returned when m could not be read.
func ZeroSnapshot(m Market) MarketSnapshot {
	s := NewSnapshot(m, nil, nil, false, nil)
	s.Degraded = true
	return s
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
