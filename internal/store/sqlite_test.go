package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T, clock func() time.Time) *SQLiteStore {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQLite(SQLiteConfig{
		Path:          path,
		Clock:         clock,
		SweepInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openTestSQLite(t, nil)
	ctx := context.Background()

	if err := s.Set(ctx, "db:APPS:a1", []byte(`{"title":"stickie"}`), 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	// Overwrite through the same key.
	if err := s.Set(ctx, "db:APPS:a1", []byte(`{"title":"cell"}`), 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	value, ok, err := s.Get(ctx, "db:APPS:a1")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, ok=%v err=%v", ok, err)
	}
	if string(value) != `{"title":"cell"}` {
		t.Fatalf("unexpected value: %s", value)
	}

	existed, err := s.Delete(ctx, "db:APPS:a1")
	if err != nil || !existed {
		t.Fatalf("expected delete to succeed, existed=%v err=%v", existed, err)
	}
	if _, ok, _ := s.Get(ctx, "db:APPS:a1"); ok {
		t.Fatal("expected key to be absent after delete")
	}
}

func TestSQLiteStoreScanAndClear(t *testing.T) {
	s := openTestSQLite(t, nil)
	ctx := context.Background()

	_ = s.Set(ctx, "db:APPS:a2", []byte("{}"), 0)
	_ = s.Set(ctx, "db:APPS:a1", []byte("{}"), 0)
	_ = s.Set(ctx, "db:USERS:u1", []byte("{}"), 0)

	keys, err := s.ScanKeys(ctx, "db:APPS:")
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "db:APPS:a1" || keys[1] != "db:APPS:a2" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := s.Clear(ctx, "db:APPS:"); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if keys, _ := s.ScanKeys(ctx, "db:APPS:"); len(keys) != 0 {
		t.Fatalf("expected empty namespace, got %v", keys)
	}
	if _, ok, _ := s.Get(ctx, "db:USERS:u1"); !ok {
		t.Fatal("expected unrelated key to survive clear")
	}
}

func TestSQLiteStoreExpiryHiddenFromReads(t *testing.T) {
	current := time.Unix(1700000000, 0)
	s := openTestSQLite(t, func() time.Time { return current })
	ctx := context.Background()

	if err := s.Set(ctx, "db:PRESENCE:p1", []byte("{}"), 30*time.Second); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "db:PRESENCE:p1"); !ok {
		t.Fatal("expected key before expiry")
	}

	current = current.Add(31 * time.Second)
	if _, ok, _ := s.Get(ctx, "db:PRESENCE:p1"); ok {
		t.Fatal("expected expired key to be hidden from Get")
	}
	if keys, _ := s.ScanKeys(ctx, "db:PRESENCE:"); len(keys) != 0 {
		t.Fatalf("expected expired key to be hidden from ScanKeys, got %v", keys)
	}
	if existed, _ := s.Delete(ctx, "db:PRESENCE:p1"); existed {
		t.Fatal("expected delete of expired key to report absence")
	}
}
