package idempotency

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	key := Key("mint", "test-key")
	rec := Record{
		Operation:  "mint",
		StatusCode: 202,
		Response:   []byte("payload"),
		TxHash:     "0xfeed",
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().Add(time.Minute).UTC(),
	}

	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.StatusCode != rec.StatusCode || got.TxHash != rec.TxHash {
		t.Fatalf("unexpected record: %#v", got)
	}

	expired := Key("mint", "expired-key")
	if err := store.Save(ctx, expired, Record{Operation: "mint", Response: []byte("{}"), CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().Add(-time.Minute).UTC()}); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if got, _ := store.Get(ctx, expired); got != nil {
		t.Fatalf("expected expired record to be hidden: %#v", got)
	}
	unread := Key("mint", "expired-unread")
	if err := store.Save(ctx, unread, Record{Operation: "mint", Response: []byte("{}"), CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().Add(-time.Minute).UTC()}); err != nil {
		t.Fatalf("save unread: %v", err)
	}
	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least one purged row, got %d", n)
	}
}
