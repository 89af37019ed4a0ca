package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type fakeDBDedup struct {
	seen      map[string]bool
	lookupErr error
	lookups   int
	marks     int
}

func newFakeDBDedup() *fakeDBDedup {
	return &fakeDBDedup{seen: make(map[string]bool)}
}

func (f *fakeDBDedup) IsDuplicate(subject, messageID string) (bool, error) {
	f.lookups++
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.seen[subject+":"+messageID], nil
}

func (f *fakeDBDedup) MarkProcessed(_ context.Context, subject, messageID string) error {
	f.marks++
	f.seen[subject+":"+messageID] = true
	return nil
}

func TestDeduplicatorMarkThenCheck(t *testing.T) {
	db := newFakeDBDedup()
	d := NewDeduplicator(16, db, zerolog.Nop(), nil)

	if d.IsDuplicate("burrow.ingest.transfer", "msg-1") {
		t.Fatal("fresh message reported as duplicate")
	}
	d.MarkProcessed(context.Background(), "burrow.ingest.transfer", "msg-1")

	if !d.IsDuplicate("burrow.ingest.transfer", "msg-1") {
		t.Fatal("processed message not caught")
	}
	// The hit came from the LRU; no DB lookup for the second call.
	if db.lookups != 1 {
		t.Errorf("db lookups = %d, want 1", db.lookups)
	}
	if db.marks != 1 {
		t.Errorf("db marks = %d, want 1", db.marks)
	}
}

// After LRU eviction the durable tier still catches the duplicate and
// re-warms the LRU.
func TestDeduplicatorColdPathFallback(t *testing.T) {
	db := newFakeDBDedup()
	d := NewDeduplicator(2, db, zerolog.Nop(), nil)

	ctx := context.Background()
	d.MarkProcessed(ctx, "s", "old")
	d.MarkProcessed(ctx, "s", "a")
	d.MarkProcessed(ctx, "s", "b") // evicts "old" from the LRU

	db.lookups = 0
	if !d.IsDuplicate("s", "old") {
		t.Fatal("evicted duplicate not caught by the durable tier")
	}
	if db.lookups != 1 {
		t.Errorf("db lookups = %d, want 1", db.lookups)
	}
	// The hit re-warmed the LRU.
	if !d.IsDuplicate("s", "old") || db.lookups != 1 {
		t.Errorf("expected LRU hit after re-warm, lookups = %d", db.lookups)
	}
}

// A database outage must not stall ingestion: lookup errors are treated as
// "not a duplicate".
func TestDeduplicatorLookupErrorAssumesFresh(t *testing.T) {
	db := newFakeDBDedup()
	db.lookupErr = errors.New("connection refused")
	d := NewDeduplicator(2, db, zerolog.Nop(), nil)

	if d.IsDuplicate("s", "unknown") {
		t.Fatal("lookup error reported as duplicate")
	}
}

func TestDeduplicatorWithoutDB(t *testing.T) {
	d := NewDeduplicator(4, nil, zerolog.Nop(), nil)

	d.MarkProcessed(context.Background(), "s", "only")
	if !d.IsDuplicate("s", "only") {
		t.Fatal("LRU-only duplicate not caught")
	}
	if d.IsDuplicate("s", "other") {
		t.Fatal("unknown message reported as duplicate")
	}
}

func TestDedupLRUEviction(t *testing.T) {
	lru := newDedupLRU(3)
	for i := 0; i < 3; i++ {
		lru.Add(fmt.Sprintf("k%d", i))
	}

	// Touching k0 promotes it, so k1 is now the oldest.
	lru.Contains("k0")
	lru.Add("k3")

	if lru.Contains("k1") {
		t.Error("k1 should have been evicted")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if !lru.Contains(k) {
			t.Errorf("%s missing from LRU", k)
		}
	}
	if lru.Size() != 3 {
		t.Errorf("size = %d, want 3", lru.Size())
	}
}

func TestDedupLRUAddExistingPromotes(t *testing.T) {
	lru := newDedupLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Add("a") // promote, not duplicate
	lru.Add("c") // evicts b

	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("a and c should remain")
	}
}
