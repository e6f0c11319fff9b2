package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(MemoryConfig{})
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "db:BOARDS:b1", []byte(`{"name":"one"}`), 0); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	value, ok, err := s.Get(ctx, "db:BOARDS:b1")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, ok=%v err=%v", ok, err)
	}
	if string(value) != `{"name":"one"}` {
		t.Fatalf("unexpected value: %s", value)
	}

	existed, err := s.Delete(ctx, "db:BOARDS:b1")
	if err != nil || !existed {
		t.Fatalf("expected delete to report existing key, existed=%v err=%v", existed, err)
	}
	if _, ok, _ := s.Get(ctx, "db:BOARDS:b1"); ok {
		t.Fatal("expected key to be absent after delete")
	}
	if existed, _ := s.Delete(ctx, "db:BOARDS:b1"); existed {
		t.Fatal("expected second delete to report absence")
	}
}

func TestMemoryStoreScanKeysFiltersPrefix(t *testing.T) {
	s := NewMemoryStore(MemoryConfig{})
	defer s.Close()
	ctx := context.Background()

	for _, key := range []string{"db:BOARDS:b2", "db:BOARDS:b1", "db:ROOMS:r1"} {
		if err := s.Set(ctx, key, []byte("{}"), 0); err != nil {
			t.Fatalf("unexpected set error: %v", err)
		}
	}

	keys, err := s.ScanKeys(ctx, "db:BOARDS:")
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	expected := []string{"db:BOARDS:b1", "db:BOARDS:b2"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %v", len(expected), keys)
	}
	for index, key := range expected {
		if keys[index] != key {
			t.Fatalf("expected key %s at index %d, got %s", key, index, keys[index])
		}
	}
}

func TestMemoryStoreExpiresKeys(t *testing.T) {
	current := time.Unix(1700000000, 0)
	clock := func() time.Time { return current }
	s := NewMemoryStore(MemoryConfig{Clock: clock, SweepInterval: time.Hour})
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "db:PRESENCE:p1", []byte("{}"), 60*time.Second); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "db:PRESENCE:p1"); !ok {
		t.Fatal("expected key before expiry")
	}

	current = current.Add(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "db:PRESENCE:p1"); !ok {
		t.Fatal("expected key within the TTL window")
	}

	// A refresh re-arms the window.
	if err := s.Set(ctx, "db:PRESENCE:p1", []byte("{}"), 60*time.Second); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	current = current.Add(61 * time.Second)
	if _, ok, _ := s.Get(ctx, "db:PRESENCE:p1"); ok {
		t.Fatal("expected key to expire after the TTL window")
	}
	keys, err := s.ScanKeys(ctx, "db:PRESENCE:")
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no live keys, got %v", keys)
	}
}

func TestMemoryStoreClearRemovesNamespace(t *testing.T) {
	s := NewMemoryStore(MemoryConfig{})
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "db:MESSAGE:m1", []byte("{}"), 0)
	_ = s.Set(ctx, "db:MESSAGE:m2", []byte("{}"), 0)
	_ = s.Set(ctx, "db:ROOMS:r1", []byte("{}"), 0)

	if err := s.Clear(ctx, "db:MESSAGE:"); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if keys, _ := s.ScanKeys(ctx, "db:MESSAGE:"); len(keys) != 0 {
		t.Fatalf("expected cleared namespace, got %v", keys)
	}
	if _, ok, _ := s.Get(ctx, "db:ROOMS:r1"); !ok {
		t.Fatal("expected unrelated namespace to survive")
	}
}
