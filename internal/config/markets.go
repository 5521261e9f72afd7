package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.yaml.in/yaml/v4"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// marketEntry is one value of the deployed market registry, keyed by market
// id. Unknown keys (fee settings, oracle address) are ignored.
type marketEntry struct {
	Contract       string   `json:"contract" yaml:"contract"`
	Name           string   `json:"name" yaml:"name"`
	Question       string   `json:"question" yaml:"question"`
	Slug           string   `json:"slug" yaml:"slug"`
	Expiry         int64    `json:"expiry" yaml:"expiry"`
	MinTradeUSDC   *int64   `json:"min_trade_usdc" yaml:"min_trade_usdc"`
	MaxTradeUSDC   *int64   `json:"max_trade_usdc" yaml:"max_trade_usdc"`
	InitialYesProb *float64 `json:"initial_yes_prob" yaml:"initial_yes_prob"`
}

// LoadMarkets reads the market registry at path. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON. The returned markets are
// ordered by id. Any problem is reported as a domain.ErrConfiguration.
func LoadMarkets(path string) ([]domain.Market, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read markets %s: %w", domain.ErrConfiguration, path, err)
	}

	entries := map[string]marketEntry{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &entries)
	default:
		err = json.Unmarshal(raw, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse markets %s: %w", domain.ErrConfiguration, path, err)
	}
	return buildMarkets(entries)
}

func buildMarkets(entries map[string]marketEntry) ([]domain.Market, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: market registry is empty", domain.ErrConfiguration)
	}

	var errs []string
	markets := make([]domain.Market, 0, len(entries))
	for id, e := range entries {
		m := domain.Market{
			ID:             id,
			Contract:       e.Contract,
			Name:           e.Name,
			Question:       e.Question,
			Slug:           e.Slug,
			Expiry:         time.Unix(e.Expiry, 0).UTC(),
			MinTrade:       domain.DefaultMinTrade,
			MaxTrade:       domain.DefaultMaxTrade,
			InitialYesProb: domain.DefaultInitialYesProb,
		}
		if e.MinTradeUSDC != nil {
			m.MinTrade = *e.MinTradeUSDC
		}
		if e.MaxTradeUSDC != nil {
			m.MaxTrade = *e.MaxTradeUSDC
		}
		if e.InitialYesProb != nil {
			m.InitialYesProb = *e.InitialYesProb
		}

		switch {
		case !common.IsHexAddress(m.Contract):
			errs = append(errs, fmt.Sprintf("market %s: contract %q is not a hex address", id, m.Contract))
		case e.Expiry <= 0:
			errs = append(errs, fmt.Sprintf("market %s: expiry must be a positive unix timestamp", id))
		case m.MinTrade < 1:
			errs = append(errs, fmt.Sprintf("market %s: min_trade_usdc must be >= 1, got %d", id, m.MinTrade))
		case m.MaxTrade < m.MinTrade:
			errs = append(errs, fmt.Sprintf("market %s: max_trade_usdc %d is below min_trade_usdc %d", id, m.MaxTrade, m.MinTrade))
		case m.InitialYesProb < 0 || m.InitialYesProb > 1:
			errs = append(errs, fmt.Sprintf("market %s: initial_yes_prob must be within [0, 1], got %g", id, m.InitialYesProb))
		}
		markets = append(markets, m)
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%w: invalid market registry:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}

	sort.Slice(markets, func(i, j int) bool { return idLess(markets[i].ID, markets[j].ID) })
	return markets, nil
}

// idLess orders numeric ids numerically and everything else lexically.
func idLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// FindMarket returns the market with the given id.
func FindMarket(markets []domain.Market, id string) (domain.Market, bool) {
	for _, m := range markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}
