package writeengine

import (
	"context"
	"sync"
	"testing"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/store"
)

type fakeIndex struct {
	id string

	mu      sync.Mutex
	indexed map[string]domain.ContentRecord
	removed map[string]bool
}

func newFakeIndex(id string) *fakeIndex {
	return &fakeIndex{id: id, indexed: make(map[string]domain.ContentRecord), removed: make(map[string]bool)}
}

func (f *fakeIndex) ID() string { return f.id }

func (f *fakeIndex) Index(_ context.Context, contentID string, rec domain.ContentRecord, _ map[string][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[contentID] = rec
	delete(f.removed, contentID)
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, contentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, contentID)
	f.removed[contentID] = true
	return nil
}

func newTestEngine() (*Engine, *store.InMemoryOperationStore, *store.InMemoryContentStore, *fakeIndex) {
	ops := store.NewInMemoryOperationStore()
	content := store.NewInMemoryContentStore()
	idx := newFakeIndex("default")
	e := New(ops, content, []SecondaryIndex{idx}, nil)
	return e, ops, content, idx
}

// TestUpsertSupersede exercises S3: rapid-succession upserts for the same
// content id must end with exactly one ContentRecord, holding the last
// payload, with the earlier operations cancelled and complete.
func TestUpsertSupersede(t *testing.T) {
	e, ops, content, idx := newTestEngine()
	ctx := context.Background()

	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("A")}, nil, []string{"default"}); err != nil {
		t.Fatalf("upsert A: %v", err)
	}
	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("B")}, nil, []string{"default"}); err != nil {
		t.Fatalf("upsert B: %v", err)
	}
	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("C")}, nil, []string{"default"}); err != nil {
		t.Fatalf("upsert C: %v", err)
	}

	rec, err := content.Get(ctx, "X")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Content) != "C" {
		t.Errorf("content = %q, want %q", rec.Content, "C")
	}
	if !rec.Ready {
		t.Error("content should be ready after drain completes")
	}

	indexed, ok := idx.indexed["X"]
	if !ok {
		t.Fatal("expected content to be indexed")
	}
	if string(indexed.Content) != "C" {
		t.Errorf("indexed content = %q, want %q", indexed.Content, "C")
	}

	_ = ops
}

func TestDeleteCannotBeSuperseded(t *testing.T) {
	e, ops, content, idx := newTestEngine()
	ctx := context.Background()

	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("A")}, nil, []string{"default"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := e.Delete(ctx, "X", []string{"default"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("B")}, nil, []string{"default"}); err != nil {
		t.Fatalf("upsert after delete: %v", err)
	}

	// Drain again in case ordering left anything queued.
	if err := e.Drain(ctx, "X"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if idx.removed["X"] && idx.indexed["X"].ID != "" {
		t.Error("delete must not be cancelled by a later upsert (invariant 6)")
	}
	_ = content
	_ = ops
}

func TestUpsertFailsForUnconfiguredIndex(t *testing.T) {
	ops := store.NewInMemoryOperationStore()
	content := store.NewInMemoryContentStore()
	e := New(ops, content, nil, nil)
	ctx := context.Background()

	if _, err := e.Upsert(ctx, "X", domain.ContentRecord{Content: []byte("A")}, nil, []string{"missing"}); err != nil {
		t.Fatalf("Upsert phase 1 should not fail: %v", err)
	}

	op, found, err := ops.OldestIncomplete(ctx, "X")
	if err != nil || !found {
		t.Fatalf("expected the failed operation to remain locked: found=%v err=%v", found, err)
	}
	if op.LastAttemptAt == nil {
		t.Error("failed operation should remain Locked, not unclaimed")
	}
	if op.LastFailure == "" {
		t.Error("expected last_failure to be populated")
	}

	rec, err := content.Get(ctx, "X")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Ready {
		t.Error("content must stay not-ready when a step fails permanently")
	}
}
