package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMarketsDeployedJSON(t *testing.T) {
	path := writeFile(t, "deployed.json", `{
  "10": {"id": 10, "slug": "ten", "name": "Ten", "question": "Q10?",
         "contract": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", "expiry": 1798761599},
  "2": {"id": 2, "slug": "two", "name": "Two", "question": "Q2?",
        "contract": "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0", "expiry": 1798761599,
        "min_trade_usdc": 5, "max_trade_usdc": 50, "initial_yes_prob": 0.7}
}`)

	markets, err := LoadMarkets(path)
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets", len(markets))
	}
	if markets[0].ID != "2" || markets[1].ID != "10" {
		t.Fatalf("order = %s, %s; want numeric order", markets[0].ID, markets[1].ID)
	}

	two := markets[0]
	if two.MinTrade != 5 || two.MaxTrade != 50 || two.InitialYesProb != 0.7 {
		t.Errorf("explicit values lost: %+v", two)
	}
	if two.Expiry.Unix() != 1798761599 {
		t.Errorf("expiry = %v", two.Expiry)
	}

	ten := markets[1]
	if ten.MinTrade != domain.DefaultMinTrade || ten.MaxTrade != domain.DefaultMaxTrade ||
		ten.InitialYesProb != domain.DefaultInitialYesProb {
		t.Errorf("defaults not applied: %+v", ten)
	}
}

func TestLoadMarketsYAML(t *testing.T) {
	path := writeFile(t, "markets.yaml", `
"1":
  contract: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
  slug: one
  name: One
  question: "Will it?"
  expiry: 1798761599
  initial_yes_prob: 0.25
`)
	markets, err := LoadMarkets(path)
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if len(markets) != 1 || markets[0].Slug != "one" || markets[0].InitialYesProb != 0.25 {
		t.Fatalf("got %+v", markets)
	}
	m, ok := FindMarket(markets, "1")
	if !ok || m.Name != "One" {
		t.Fatalf("FindMarket = %+v, %v", m, ok)
	}
	if _, ok := FindMarket(markets, "99"); ok {
		t.Fatal("FindMarket found unknown id")
	}
}

func TestLoadMarketsRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"bad contract", `{"1": {"contract": "nope", "expiry": 1}}`},
		{"no expiry", `{"1": {"contract": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"}}`},
		{"min above max", `{"1": {"contract": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", "expiry": 1, "min_trade_usdc": 9, "max_trade_usdc": 3}}`},
		{"prob out of range", `{"1": {"contract": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", "expiry": 1, "initial_yes_prob": 1.5}}`},
		{"malformed", `{"1":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "deployed.json", tt.body)
			if _, err := LoadMarkets(path); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("got %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadMarketsMissingFile(t *testing.T) {
	if _, err := LoadMarkets(filepath.Join(t.TempDir(), "deployed.json")); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}
}
