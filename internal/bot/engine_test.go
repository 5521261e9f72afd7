package bot

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1337))
}

func TestTickAmountWithinBounds(t *testing.T) {
	l := newFakeLedger()
	e := NewTradeEngine(l, seeded(), nil)
	m := domain.Market{ID: "m", MinTrade: 3, MaxTrade: 5, InitialYesProb: 0.5}

	seen := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		out := e.Tick(context.Background(), m)
		if out.Status != TickTraded {
			t.Fatalf("tick %d: status = %s (%v)", i, out.Status, out.Err)
		}
		if out.Amount < 3 || out.Amount > 5 {
			t.Fatalf("amount %d outside [3,5]", out.Amount)
		}
		seen[out.Amount] = true
	}
	for _, v := range []int64{3, 4, 5} {
		if !seen[v] {
			t.Errorf("amount %d never drawn", v)
		}
	}
}

func TestTickDefaultBounds(t *testing.T) {
	l := newFakeLedger()
	e := NewTradeEngine(l, seeded(), nil)
	m := domain.Market{ID: "m", InitialYesProb: 0.5}

	for i := 0; i < 500; i++ {
		out := e.Tick(context.Background(), m)
		if out.Amount < 1 || out.Amount > 10 {
			t.Fatalf("amount %d outside default [1,10]", out.Amount)
		}
	}
}

func TestTickSkipsExpiredMarket(t *testing.T) {
	expiry := time.Unix(1_800_000_000, 0)
	tests := []struct {
		name string
		now  time.Time
		want TickStatus
	}{
		{"before expiry", expiry.Add(-time.Second), TickTraded},
		{"at expiry", expiry, TickSkippedExpired},
		{"after expiry", expiry.Add(time.Minute), TickSkippedExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			l.expiry["m"] = expiry
			e := NewTradeEngine(l, seeded(), func() time.Time { return tt.now })

			out := e.Tick(context.Background(), domain.Market{ID: "m", InitialYesProb: 0.5})
			if out.Status != tt.want {
				t.Fatalf("status = %s, want %s", out.Status, tt.want)
			}
			if tt.want == TickSkippedExpired && len(l.tradesFor("m")) != 0 {
				t.Error("trade submitted for expired market")
			}
		})
	}
}

func TestTickSideDistribution(t *testing.T) {
	l := newFakeLedger()
	e := NewTradeEngine(l, seeded(), nil)
	m := domain.Market{ID: "m", InitialYesProb: 0.7}

	const n = 10_000
	yes := 0
	for i := 0; i < n; i++ {
		if e.Tick(context.Background(), m).Side == domain.SideYes {
			yes++
		}
	}
	frac := float64(yes) / n
	if frac < 0.68 || frac > 0.72 {
		t.Errorf("YES fraction = %.4f, want 0.70 ± 0.02", frac)
	}
}

func TestTickExtremeProbabilities(t *testing.T) {
	l := newFakeLedger()
	e := NewTradeEngine(l, seeded(), nil)
	for i := 0; i < 200; i++ {
		if s := e.Tick(context.Background(), domain.Market{ID: "y", InitialYesProb: 1}).Side; s != domain.SideYes {
			t.Fatalf("p=1 drew %s", s)
		}
		if s := e.Tick(context.Background(), domain.Market{ID: "n", InitialYesProb: 0}).Side; s != domain.SideNo {
			t.Fatalf("p=0 drew %s", s)
		}
	}
}

func TestTickFailures(t *testing.T) {
	l := newFakeLedger()
	l.failing["m"] = true
	out := NewTradeEngine(l, seeded(), nil).Tick(context.Background(), domain.Market{ID: "m"})
	if out.Status != TickFailed || !errors.Is(out.Err, domain.ErrTransientLedger) {
		t.Fatalf("outcome = %+v, want failed with ErrTransientLedger", out)
	}

	l = newFakeLedger()
	l.confirmErr = domain.ErrTxReverted
	out = NewTradeEngine(l, seeded(), nil).Tick(context.Background(), domain.Market{ID: "m"})
	if out.Status != TickFailed || !errors.Is(out.Err, domain.ErrTxReverted) {
		t.Fatalf("outcome = %+v, want failed with ErrTxReverted", out)
	}
	if out.TxHash == "" {
		t.Error("failed confirmation should still carry the tx hash")
	}
}
