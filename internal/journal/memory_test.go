package journal

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func entryFor(i int) Entry {
	return Entry{
		Unit:      fmt.Sprintf("svc-%d.service", i),
		Action:    "restart",
		Code:      0,
		OK:        true,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestMemoryStoreRecentNewestFirst(t *testing.T) {
	store := NewMemoryStore(8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, entryFor(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"svc-4.service", "svc-3.service", "svc-2.service"} {
		if entries[i].Unit != want {
			t.Fatalf("entry %d is %q, want %q", i, entries[i].Unit, want)
		}
	}
}

func TestMemoryStoreWrapsAround(t *testing.T) {
	store := NewMemoryStore(4)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := store.Append(ctx, entryFor(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want capacity 4", len(entries))
	}
	if entries[0].Unit != "svc-9.service" || entries[3].Unit != "svc-6.service" {
		t.Fatalf("ring kept wrong window: first %q last %q", entries[0].Unit, entries[3].Unit)
	}
}

func TestMemoryStoreEmpty(t *testing.T) {
	store := NewMemoryStore(0)
	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries from empty store", len(entries))
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Append(ctx, entryFor(0)); err == nil {
		t.Fatal("append accepted a cancelled context")
	}
	if _, err := store.Recent(ctx, 1); err == nil {
		t.Fatal("recent accepted a cancelled context")
	}
}
