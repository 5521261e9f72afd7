package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != domain.ChannelTrades {
		return nil
	}
	p.mu.Lock()
	p.events = append(p.events, payload)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type memTrades struct {
	mu   sync.Mutex
	rows []domain.BotTrade
}

func (m *memTrades) Insert(_ context.Context, tr domain.BotTrade) error {
	m.mu.Lock()
	m.rows = append(m.rows, tr)
	m.mu.Unlock()
	return nil
}

func (m *memTrades) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.BotTrade, error) {
	return nil, nil
}

func newTestScheduler(l *fakeLedger, interval time.Duration) *Scheduler {
	return NewScheduler(
		NewAllowanceGuard(l, testLogger()),
		NewTradeEngine(l, nil, nil),
		owner,
		interval,
		testLogger(),
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(s *Scheduler, id string) TaskStatus {
	for _, st := range s.Status() {
		if st.MarketID == id {
			return st
		}
	}
	return TaskStatus{}
}

func TestSchedulerFailureIsolation(t *testing.T) {
	l := newFakeLedger()
	l.failing["bad"] = true
	l.panicOn["panicky"] = true
	s := newTestScheduler(l, 5*time.Millisecond)

	markets := []domain.Market{
		{ID: "good", Contract: "0x01", InitialYesProb: 0.5},
		{ID: "bad", Contract: "0x02", InitialYesProb: 0.5},
		{ID: "panicky", Contract: "0x03", InitialYesProb: 0.5},
	}
	s.Start(context.Background(), markets)
	waitFor(t, "good market to trade", func() bool { return len(l.tradesFor("good")) >= 3 })
	waitFor(t, "bad market to fail", func() bool { return statusOf(s, "bad").Failures >= 3 })
	waitFor(t, "panicky market to fail", func() bool { return statusOf(s, "panicky").Failures >= 3 })
	s.Stop()

	if len(l.tradesFor("bad")) != 0 {
		t.Error("failing market placed trades")
	}
	good := statusOf(s, "good")
	if good.Trades < 3 || good.Failures != 0 {
		t.Errorf("good status = %+v", good)
	}
	if st := statusOf(s, "panicky"); st.LastError == "" {
		t.Error("panic not recorded as a failure")
	}
}

func TestSchedulerApprovesOncePerMarket(t *testing.T) {
	l := newFakeLedger()
	s := newTestScheduler(l, 5*time.Millisecond)

	markets := []domain.Market{
		{ID: "a", Contract: "0x0a", InitialYesProb: 0.5},
		{ID: "b", Contract: "0x0b", InitialYesProb: 0.5},
	}
	s.Start(context.Background(), markets)
	waitFor(t, "trades on both markets", func() bool {
		return len(l.tradesFor("a")) >= 3 && len(l.tradesFor("b")) >= 3
	})
	s.Stop()

	if got := l.approvalCount(); got != 2 {
		t.Errorf("approvals = %d, want 2 (one per market)", got)
	}
	for _, st := range s.Status() {
		if !st.ApprovalDone || st.Approval != ApprovalApproved {
			t.Errorf("%s approval = %s/%v", st.MarketID, st.Approval, st.ApprovalDone)
		}
	}
}

func TestSchedulerApprovalFailureStillTrades(t *testing.T) {
	l := newFakeLedger()
	l.approveErr = errNode
	s := newTestScheduler(l, 5*time.Millisecond)

	s.Start(context.Background(), []domain.Market{{ID: "m", Contract: "0x01", InitialYesProb: 0.5}})
	waitFor(t, "trade after failed approval", func() bool { return len(l.tradesFor("m")) >= 1 })
	s.Stop()

	if st := statusOf(s, "m"); st.ApprovalDone || st.Approval != ApprovalFailed {
		t.Errorf("approval = %s/%v, want failed/false", st.Approval, st.ApprovalDone)
	}
}

func TestSchedulerStopIsDeterministic(t *testing.T) {
	l := newFakeLedger()
	s := newTestScheduler(l, 2*time.Millisecond)
	s.Start(context.Background(), []domain.Market{{ID: "m", Contract: "0x01", InitialYesProb: 0.5}})
	waitFor(t, "first trade", func() bool { return len(l.tradesFor("m")) >= 1 })

	s.Stop()
	after := len(l.tradesFor("m"))
	time.Sleep(20 * time.Millisecond)
	if got := len(l.tradesFor("m")); got != after {
		t.Errorf("trades after Stop: %d -> %d", after, got)
	}
	if st := statusOf(s, "m"); st.State != TaskStopped {
		t.Errorf("state = %s, want stopped", st.State)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	l := newFakeLedger()
	s := newTestScheduler(l, 2*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, []domain.Market{{ID: "m", Contract: "0x01", InitialYesProb: 0.5}})
	}()
	waitFor(t, "first trade", func() bool { return len(l.tradesFor("m")) >= 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSchedulerExpiredMarketNeverTrades(t *testing.T) {
	l := newFakeLedger()
	l.expiry["old"] = time.Now().Add(-time.Hour)
	s := newTestScheduler(l, 2*time.Millisecond)

	s.Start(context.Background(), []domain.Market{{ID: "old", Contract: "0x01", InitialYesProb: 0.5}})
	waitFor(t, "skips", func() bool { return statusOf(s, "old").Skips >= 5 })
	s.Stop()

	if n := len(l.tradesFor("old")); n != 0 {
		t.Errorf("expired market traded %d times", n)
	}
}

func TestSchedulerJournalsAndPublishes(t *testing.T) {
	l := newFakeLedger()
	s := newTestScheduler(l, 2*time.Millisecond)
	pub := &recordingPublisher{}
	journal := &memTrades{}
	s.SetPublisher(pub)
	s.SetTradeStore(journal)

	s.Start(context.Background(), []domain.Market{{ID: "m", Contract: "0x01", InitialYesProb: 0.5}})
	waitFor(t, "published events", func() bool { return pub.count() >= 2 })
	s.Stop()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.rows) < 2 {
		t.Fatalf("journaled %d trades, want >= 2", len(journal.rows))
	}
	r := journal.rows[0]
	if r.ID == "" || r.MarketID != "m" || r.Status != domain.TradeConfirmed || r.TxHash == "" {
		t.Errorf("journal row = %+v", r)
	}
}
