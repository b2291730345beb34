package quotastore

import (
	"context"
	"testing"
)

func TestIncrByAccumulates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.IncrBy(ctx, "k", 10); err != nil {
		t.Fatal(err)
	}
	got, err := m.IncrBy(ctx, "k", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

func TestMGetReturnsZeroForMissing(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.IncrBy(ctx, "a", 3)
	got, err := m.MGet(ctx, "a", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 3 || got[1] != 0 {
		t.Fatalf("expected [3 0], got %v", got)
	}
}

func TestLPushRPopIsFIFO(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.LPush(ctx, "q", []byte("first"))
	m.LPush(ctx, "q", []byte("second"))
	m.LPush(ctx, "q", []byte("third"))

	items, err := m.RPopN(ctx, "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(items[0]) != "first" || string(items[1]) != "second" {
		t.Fatalf("expected FIFO order [first second], got %v", items)
	}

	length, _ := m.LLen(ctx, "q")
	if length != 1 {
		t.Fatalf("expected 1 remaining item, got %d", length)
	}
}

func TestRPopNReturnsFewerThanNWhenShort(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.LPush(ctx, "q", []byte("only"))

	items, err := m.RPopN(ctx, "q", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}
