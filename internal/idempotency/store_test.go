package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing key")
	}

	record := Record{
		Operation:  "mint",
		StatusCode: 202,
		Response:   []byte(`{"status":"submitted"}`),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	key := Key("mint", "abc")
	if err := store.Save(ctx, key, record); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, key)
	if got == nil || got.Operation != "mint" || got.StatusCode != 202 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if rec, _ := store.Get(ctx, Key("start_presale", "abc")); rec != nil {
		t.Fatalf("key leaked across operations: %+v", rec)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Save(ctx, "k", Record{ExpiresAt: now.Add(time.Second)})
	if rec, _ := store.Get(ctx, "k"); rec == nil {
		t.Fatal("expected record inside window")
	}
	now = now.Add(2 * time.Second)
	if rec, _ := store.Get(ctx, "k"); rec != nil {
		t.Fatalf("expected expired record to be hidden: %+v", rec)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "idem.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	record := Record{
		Operation:  "start_presale",
		StatusCode: 202,
		Response:   []byte("resp"),
		TxHash:     "0xabc",
		CreatedAt:  time.Unix(0, 0),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, "key", record); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "stale", Record{ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "key")
	if got == nil || string(got.Response) != "resp" || got.TxHash != "0xabc" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if _, ok := store2.data["stale"]; ok {
		t.Fatal("expected expired record to be dropped on load")
	}
}

var (
	_ Purger = (*MemoryStore)(nil)
	_ Purger = (*FileStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)

func TestMemoryStorePurgeExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Save(ctx, "old", Record{ExpiresAt: now.Add(-time.Second)})
	_ = store.Save(ctx, "new", Record{ExpiresAt: now.Add(time.Minute)})

	n, err := store.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged record, got %d (%v)", n, err)
	}
	if _, ok := store.data["old"]; ok {
		t.Fatal("expired record still stored")
	}
	if rec, _ := store.Get(ctx, "new"); rec == nil {
		t.Fatal("live record purged")
	}
}

func TestFileStorePurgeExpiredPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, "keep", Record{ExpiresAt: now.Add(time.Hour)})
	_ = store.Save(ctx, "drop", Record{ExpiresAt: now.Add(time.Hour)})
	store.now = func() time.Time { return now.Add(30 * time.Minute) }
	store.data["drop"] = Record{ExpiresAt: now.Add(time.Minute)}

	n, err := store.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged record, got %d (%v)", n, err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	if _, ok := reopened.data["drop"]; ok {
		t.Fatal("purge was not persisted")
	}
	if _, ok := reopened.data["keep"]; !ok {
		t.Fatal("live record lost")
	}
}

type countingPurger struct {
	calls chan struct{}
}

func (c *countingPurger) PurgeExpired(context.Context) (int64, error) {
	c.calls <- struct{}{}
	return 1, nil
}

func TestSweepPurgesUntilCancelled(t *testing.T) {
	p := &countingPurger{calls: make(chan struct{}, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sweep(ctx, p, 5*time.Millisecond) }()

	for i := 0; i < 3; i++ {
		select {
		case <-p.calls:
		case <-time.After(time.Second):
			t.Fatalf("sweep %d did not run", i)
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
