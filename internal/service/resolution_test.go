package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func TestResolve(t *testing.T) {
	l := newFakeLedger()
	audit := &memAudit{}
	pub := &capturePublisher{}
	s := NewResolutionService(l, testMarkets, NewLocalLocks(), testLogger())
	s.SetAuditStore(audit)
	s.SetPublisher(pub)

	res, err := s.Resolve(context.Background(), "1", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.MarketID != "1" || !res.OutcomeYes || res.TxHash != "0xres1" || res.BlockNumber != 99 {
		t.Errorf("result = %+v", res)
	}
	if len(audit.events) != 1 || audit.events[0] != "market_resolved" {
		t.Errorf("audit = %v", audit.events)
	}
	if len(pub.channels) != 1 {
		t.Errorf("published %d events, want 1", len(pub.channels))
	}

	if _, err := s.Resolve(context.Background(), "1", false); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second Resolve err = %v, want ErrAlreadyResolved", err)
	}
	if len(l.resolutions) != 1 {
		t.Errorf("submitted %d resolutions, want 1", len(l.resolutions))
	}
}

func TestResolveUnknownMarket(t *testing.T) {
	s := NewResolutionService(newFakeLedger(), testMarkets, NewLocalLocks(), testLogger())
	if _, err := s.Resolve(context.Background(), "99", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveRevertedTx(t *testing.T) {
	l := newFakeLedger()
	l.confirmErr = domain.ErrTxReverted
	s := NewResolutionService(l, testMarkets, NewLocalLocks(), testLogger())
	if _, err := s.Resolve(context.Background(), "0", false); !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v, want ErrTxReverted", err)
	}
}

func TestResolveLockHeld(t *testing.T) {
	locks := NewLocalLocks()
	unlock, err := locks.Acquire(context.Background(), "resolve:0", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	s := NewResolutionService(newFakeLedger(), testMarkets, locks, testLogger())
	if _, err := s.Resolve(context.Background(), "0", true); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	unlock()
	if _, err := s.Resolve(context.Background(), "0", true); err != nil {
		t.Fatalf("Resolve after unlock: %v", err)
	}
}

func TestLocalLocksExpiry(t *testing.T) {
	l := NewLocalLocks()
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	unlockA, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}

	now = now.Add(2 * time.Second)
	unlockB, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	// A stale unlock must not release B's lease.
	unlockA()
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatal("stale unlock released the new holder")
	}
	unlockB()

	now = now.Add(time.Hour)
	_, _ = l.Acquire(ctx, "other", time.Second)
	now = now.Add(time.Hour)
	l.Cleanup()
	if len(l.held) != 0 {
		t.Errorf("held = %v after cleanup", l.held)
	}
}

func TestLocalLocksConcurrent(t *testing.T) {
	l := NewLocalLocks()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "k", time.Minute); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d goroutines acquired the lock, want 1", won)
	}
}
