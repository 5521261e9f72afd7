package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

func openTemp(t *testing.T) (*HistoryBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, path
}

func sample(ms int64, yes, no int64) domain.HistorySample {
	return domain.HistorySample{
		Timestamp: time.UnixMilli(ms),
		YesTotal:  big.NewInt(yes),
		NoTotal:   big.NewInt(no),
	}
}

func TestLoadEmpty(t *testing.T) {
	b, _ := openTemp(t)
	snap, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("got %d series, want 0", len(snap))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b, path := openTemp(t)
	ctx := context.Background()

	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	in := domain.HistorySnapshot{
		"1": {sample(1000, 5, 7), sample(2000, 8, 7)},
		"2": {{Timestamp: time.UnixMilli(3000), YesTotal: huge, NoTotal: big.NewInt(0)}},
	}
	if err := b.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Reopen to prove durability.
	b.Close()
	b2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()

	out, err := b2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out["1"]) != 2 || len(out["2"]) != 1 {
		t.Fatalf("got %v", out)
	}
	if out["1"][0].Timestamp.UnixMilli() != 1000 || out["1"][1].YesTotal.Int64() != 8 {
		t.Errorf("series 1 = %+v", out["1"])
	}
	if out["2"][0].YesTotal.Cmp(huge) != 0 {
		t.Errorf("big total = %s", out["2"][0].YesTotal)
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	b, _ := openTemp(t)
	ctx := context.Background()

	if err := b.Save(ctx, domain.HistorySnapshot{"1": {sample(1, 1, 1)}, "2": {sample(1, 1, 1)}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(ctx, domain.HistorySnapshot{"1": {sample(2, 2, 2), sample(3, 3, 3)}}); err != nil {
		t.Fatal(err)
	}

	out, err := b.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["2"]; ok {
		t.Error("market 2 survived a replacing save")
	}
	if len(out["1"]) != 2 || out["1"][0].Timestamp.UnixMilli() != 2 {
		t.Errorf("series 1 = %+v", out["1"])
	}
}

func TestLoadRejectsCorruptRow(t *testing.T) {
	b, _ := openTemp(t)
	if _, err := b.db.Exec(`INSERT INTO history_samples VALUES ('1', 0, 1, '-5', '0')`); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(context.Background()); err == nil {
		t.Fatal("expected error for negative total")
	}
}
