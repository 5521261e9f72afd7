package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/bot"
	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/history"
	"github.com/alanyoungcy/poolbot/internal/service"
)

var discard = slog.New(slog.DiscardHandler)

var testMarkets = []domain.Market{
	{ID: "1", Name: "One", Slug: "one", Contract: "0x01", Expiry: time.Unix(1798761599, 0)},
	{ID: "2", Name: "Two", Slug: "two", Contract: "0x02", Expiry: time.Unix(1798761599, 0)},
}

type fakeCollector struct {
	calls [][]domain.Market
	reads []string
}

func (c *fakeCollector) Collect(_ context.Context, markets []domain.Market) []domain.MarketSnapshot {
	c.calls = append(c.calls, markets)
	out := make([]domain.MarketSnapshot, len(markets))
	for i, m := range markets {
		out[i] = domain.NewSnapshot(m, big.NewInt(int64(i+1)), big.NewInt(10), false, nil)
	}
	return out
}

func (c *fakeCollector) Snapshot(_ context.Context, m domain.Market) domain.MarketSnapshot {
	c.reads = append(c.reads, m.ID)
	return domain.NewSnapshot(m, big.NewInt(4), big.NewInt(6), false, nil)
}

type mapCache map[string]domain.MarketSnapshot

func (c mapCache) Set(_ context.Context, snaps []domain.MarketSnapshot) error {
	for _, s := range snaps {
		c[s.ID] = s
	}
	return nil
}

func (c mapCache) Get(_ context.Context, id string) (domain.MarketSnapshot, error) {
	s, ok := c[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func route(pattern string, h http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, http.HandlerFunc(NewHealthHandler().HealthCheck), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
}

func TestListMarkets(t *testing.T) {
	c := &fakeCollector{}
	h := NewMarketHandler(testMarkets, c, history.NewStore(nil, 0, discard), nil, discard)

	rec := do(t, http.HandlerFunc(h.ListMarkets), http.MethodGet, "/api/markets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snaps []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 || snaps[0]["id"] != "1" || snaps[1]["yesTotal"] != "2" {
		t.Fatalf("body = %s", rec.Body)
	}
	if _, ok := snaps[0]["outcomeYes"]; !ok {
		t.Error("outcomeYes missing from the wire shape")
	}
	if len(c.calls) != 1 || len(c.calls[0]) != 2 {
		t.Errorf("collect calls = %v", c.calls)
	}
}

func TestListMarketsNoneConfigured(t *testing.T) {
	h := NewMarketHandler(nil, &fakeCollector{}, history.NewStore(nil, 0, discard), nil, discard)
	rec := do(t, http.HandlerFunc(h.ListMarkets), http.MethodGet, "/api/markets", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetMarketPrefersCache(t *testing.T) {
	c := &fakeCollector{}
	cache := mapCache{"1": {ID: "1", YesTotal: "77", NoTotal: "0"}}
	h := NewMarketHandler(testMarkets, c, history.NewStore(nil, 0, discard), cache, discard)
	mux := route("GET /api/markets/{id}", h.GetMarket)

	rec := do(t, mux, http.MethodGet, "/api/markets/1", "")
	if !strings.Contains(rec.Body.String(), `"yesTotal":"77"`) {
		t.Fatalf("body = %s", rec.Body)
	}
	if len(c.reads) != 0 {
		t.Error("cache hit still read the ledger")
	}

	rec = do(t, mux, http.MethodGet, "/api/markets/2", "")
	if rec.Code != http.StatusOK || len(c.reads) != 1 || c.reads[0] != "2" {
		t.Fatalf("cache miss: %d %s reads=%v", rec.Code, rec.Body, c.reads)
	}
	if !strings.Contains(rec.Body.String(), `"yesTotal":"4"`) {
		t.Errorf("cache miss body = %s", rec.Body)
	}
	if len(c.calls) != 0 {
		t.Errorf("cache miss ran an aggregation pass: %v", c.calls)
	}

	rec = do(t, mux, http.MethodGet, "/api/markets/9", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown market status = %d", rec.Code)
	}
}

type poolLedger struct {
	domain.MarketLedger
	yes, no int64
}

func (l poolLedger) PoolTotals(context.Context, domain.Market) (*big.Int, *big.Int, error) {
	return big.NewInt(l.yes), big.NewInt(l.no), nil
}

func (poolLedger) IsResolved(context.Context, domain.Market) (bool, error) {
	return false, nil
}

func TestGetMarketLeavesHistoryAlone(t *testing.T) {
	store := history.NewStore(nil, 0, discard)
	agg := service.NewAggregator(poolLedger{yes: 30, no: 70}, store, 0, 0, discard)
	h := NewMarketHandler(testMarkets, agg, store, nil, discard)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)

	do(t, mux, http.MethodGet, "/api/markets", "")
	for range 3 {
		rec := do(t, mux, http.MethodGet, "/api/markets/1", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"yesTotal":"30"`) {
			t.Fatalf("get market: %d %s", rec.Code, rec.Body)
		}
	}
	for _, m := range testMarkets {
		if n := store.Len(m.ID); n != 1 {
			t.Errorf("history(%s) len = %d, want 1", m.ID, n)
		}
	}
}

func TestListMarketsIgnoresClientCancel(t *testing.T) {
	store := history.NewStore(nil, 0, discard)
	agg := service.NewAggregator(poolLedger{yes: 30, no: 70}, store, 0, 0, discard)
	h := NewMarketHandler(testMarkets, agg, store, nil, discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/api/markets", nil)
	h.ListMarkets(httptest.NewRecorder(), req)

	for _, m := range testMarkets {
		points := store.Read(m.ID)
		if len(points) != 1 || points[0].YesTotal != "30" {
			t.Errorf("history(%s) = %+v, want one 30/70 sample", m.ID, points)
		}
	}
}

func TestGetHistoryDerivesPercentages(t *testing.T) {
	store := history.NewStore(nil, 0, discard)
	store.Append("1", domain.HistorySample{Timestamp: time.UnixMilli(1000), YesTotal: big.NewInt(3), NoTotal: big.NewInt(1)})
	store.Append("1", domain.HistorySample{Timestamp: time.UnixMilli(2000), YesTotal: big.NewInt(0), NoTotal: big.NewInt(0)})
	h := NewMarketHandler(testMarkets, &fakeCollector{}, store, nil, discard)
	mux := route("GET /api/markets/{id}/history", h.GetHistory)

	rec := do(t, mux, http.MethodGet, "/api/markets/1/history", "")
	var points []domain.HistoryPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("points = %v", points)
	}
	if points[0].Timestamp != 1000 || points[0].YesPct != 75 || points[0].NoPct != 25 {
		t.Errorf("first point = %+v", points[0])
	}
	if points[1].YesPct != 50 || points[1].NoPct != 50 {
		t.Errorf("empty pool point = %+v", points[1])
	}

	rec = do(t, mux, http.MethodGet, "/api/markets/404/history", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("unknown market body = %s", rec.Body)
	}
}

type fakeStatus []bot.TaskStatus

func (f fakeStatus) Status() []bot.TaskStatus { return f }

type fakeWallet struct {
	bal *big.Int
	err error
}

func (fakeWallet) Address() string { return "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" }
func (fakeWallet) Decimals() int32 { return 6 }
func (w fakeWallet) TokenBalance(context.Context, string) (*big.Int, error) {
	return w.bal, w.err
}

func TestBotStatus(t *testing.T) {
	h := NewBotHandler(fakeStatus{{MarketID: "1", State: bot.TaskRunning}}, fakeWallet{bal: big.NewInt(12_500_000)}, discard)
	rec := do(t, http.HandlerFunc(h.GetStatus), http.MethodGet, "/api/bot/status", "")

	var resp botStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Running || len(resp.Tasks) != 1 || resp.Tasks[0].MarketID != "1" {
		t.Errorf("tasks = %+v", resp)
	}
	if resp.Balance != "12.5" || resp.BalanceRaw != "12500000" {
		t.Errorf("balance = %q raw %q", resp.Balance, resp.BalanceRaw)
	}
}

func TestBotStatusWithoutScheduler(t *testing.T) {
	h := NewBotHandler(nil, fakeWallet{err: errors.New("rpc down")}, discard)
	rec := do(t, http.HandlerFunc(h.GetStatus), http.MethodGet, "/api/bot/status", "")
	var resp botStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Running || resp.Tasks == nil || resp.Balance != "" || resp.Address == "" {
		t.Errorf("resp = %+v", resp)
	}
}

type fakeResolver struct {
	gotID  string
	gotYes bool
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, id string, yes bool) (service.ResolutionResult, error) {
	f.gotID, f.gotYes = id, yes
	if f.err != nil {
		return service.ResolutionResult{}, f.err
	}
	return service.ResolutionResult{MarketID: id, OutcomeYes: yes, TxHash: "0xabc", BlockNumber: 9}, nil
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantID   string
	}{
		{"numeric id", `{"marketId": 3, "outcomeYes": true}`, nil, http.StatusOK, "3"},
		{"string id", `{"marketId": "4", "outcomeYes": false}`, nil, http.StatusOK, "4"},
		{"unknown", `{"marketId": 99}`, fmt.Errorf("resolution: %w", domain.ErrNotFound), http.StatusNotFound, "99"},
		{"already", `{"marketId": 1}`, fmt.Errorf("resolution: %w", domain.ErrAlreadyResolved), http.StatusConflict, "1"},
		{"locked", `{"marketId": 1}`, fmt.Errorf("resolution: %w", domain.ErrLockHeld), http.StatusConflict, "1"},
		{"ledger", `{"marketId": 1}`, errors.New("reverted"), http.StatusInternalServerError, "1"},
		{"missing id", `{"outcomeYes": true}`, nil, http.StatusBadRequest, ""},
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResolver{err: tt.err}
			h := NewResolveHandler(r, discard)
			rec := do(t, http.HandlerFunc(h.Resolve), http.MethodPost, "/api/resolve", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if r.gotID != tt.wantID {
				t.Errorf("resolved id = %q, want %q", r.gotID, tt.wantID)
			}
			if tt.wantCode == http.StatusOK {
				var resp resolveResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatal(err)
				}
				if !resp.OK || resp.Tx != "0xabc" {
					t.Errorf("resp = %+v", resp)
				}
			}
		})
	}
}

func TestResolveWithoutWallet(t *testing.T) {
	h := NewResolveHandler(nil, discard)
	rec := do(t, http.HandlerFunc(h.Resolve), http.MethodPost, "/api/resolve", `{"marketId":1}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

type fakeTrades struct {
	opts domain.ListOpts
}

func (f *fakeTrades) Insert(context.Context, domain.BotTrade) error { return nil }
func (f *fakeTrades) ListByMarket(_ context.Context, id string, opts domain.ListOpts) ([]domain.BotTrade, error) {
	f.opts = opts
	return []domain.BotTrade{{ID: "t1", MarketID: id, Side: domain.SideYes, Amount: 4, Status: domain.TradeConfirmed}}, nil
}

type fakeAudit struct{}

func (fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) { return nil, nil }

func TestJournal(t *testing.T) {
	trades := &fakeTrades{}
	h := NewJournalHandler(trades, fakeAudit{}, discard)
	mux := route("GET /api/markets/{id}/trades", h.ListTrades)

	rec := do(t, mux, http.MethodGet, "/api/markets/2/trades?limit=900&offset=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"marketId":"2"`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
	if trades.opts.Limit != 500 || trades.opts.Offset != 5 {
		t.Errorf("opts = %+v", trades.opts)
	}

	rec = do(t, mux, http.MethodGet, "/api/markets/2/trades?since=2026-01-02T00:00:00Z&until=1767225600", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window status = %d", rec.Code)
	}
	rec = do(t, mux, http.MethodGet, "/api/markets/2/trades?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", rec.Code)
	}
	rec = do(t, mux, http.MethodGet, "/api/markets/2/trades?since=1767225600", "")
	if rec.Code != http.StatusOK || trades.opts.Since == nil || trades.opts.Since.Unix() != 1767225600 {
		t.Errorf("since = %v (status %d)", trades.opts.Since, rec.Code)
	}

	rec = do(t, http.HandlerFunc(h.ListAudit), http.MethodGet, "/api/audit", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("audit body = %s", rec.Body)
	}

	none := NewJournalHandler(nil, nil, discard)
	if rec := do(t, http.HandlerFunc(none.ListAudit), http.MethodGet, "/api/audit", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured audit status = %d", rec.Code)
	}
}
