package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		decimals int32
		want     string
	}{
		{1, 6, "1000000"},
		{10, 6, "10000000"},
		{0, 6, "0"},
		{3, 18, "3000000000000000000"},
		{7, 0, "7"},
	}
	for _, tt := range tests {
		if got := ToBaseUnits(tt.amount, tt.decimals).String(); got != tt.want {
			t.Errorf("ToBaseUnits(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	if got := FromBaseUnits(big.NewInt(2_500_000), 6).String(); got != "2.5" {
		t.Errorf("FromBaseUnits = %s, want 2.5", got)
	}
	if got := FromBaseUnits(nil, 6).String(); got != "0" {
		t.Errorf("FromBaseUnits(nil) = %s, want 0", got)
	}
}

func TestNonceTrackerSequential(t *testing.T) {
	calls := 0
	n := newNonceTracker(func(context.Context) (uint64, error) {
		calls++
		return 10, nil
	})
	ctx := context.Background()
	for want := uint64(10); want < 15; want++ {
		got, err := n.acquire(ctx)
		if err != nil || got != want {
			t.Fatalf("acquire = %d, %v; want %d", got, err, want)
		}
	}
	if calls != 1 {
		t.Errorf("source called %d times, want 1", calls)
	}
}

func TestNonceTrackerResetResyncs(t *testing.T) {
	pending := uint64(3)
	n := newNonceTracker(func(context.Context) (uint64, error) { return pending, nil })
	ctx := context.Background()

	_, _ = n.acquire(ctx) // 3
	_, _ = n.acquire(ctx) // 4
	n.reset()
	got, err := n.acquire(ctx)
	if err != nil || got != 3 {
		t.Fatalf("acquire after reset = %d, %v; want 3", got, err)
	}
}

func TestNonceTrackerSourceError(t *testing.T) {
	n := newNonceTracker(func(context.Context) (uint64, error) { return 0, errors.New("rpc down") })
	if _, err := n.acquire(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNonceTrackerConcurrentUnique(t *testing.T) {
	n := newNonceTracker(func(context.Context) (uint64, error) { return 0, nil })
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := n.acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[v] {
				t.Errorf("nonce %d handed out twice", v)
			}
			seen[v] = true
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Errorf("got %d distinct nonces, want 50", len(seen))
	}
}
