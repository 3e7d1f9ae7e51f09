package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/queue"
	"github.com/microsoft/kernel-memory/engine/store"
)

func TestDistributedRunsStepsAcrossMessages(t *testing.T) {
	st := store.NewInMemoryPipelineStore()
	ctx := context.Background()
	_ = st.Save(ctx, newManifest("default", "doc1", []string{"extract", "partition"}), "")

	var mu sync.Mutex
	var order []string
	handlers := Registry{
		"extract": func(_ context.Context, step string, p *domain.Pipeline) error {
			mu.Lock()
			order = append(order, step)
			mu.Unlock()
			return nil
		},
		"partition": func(_ context.Context, step string, p *domain.Pipeline) error {
			mu.Lock()
			order = append(order, step)
			mu.Unlock()
			return nil
		},
	}

	q := queue.NewLocalFileQueue(queue.DefaultOptions())
	defer q.Close()

	d := NewDistributed(q, st, handlers, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Enqueue("default", "doc1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := st.Get(ctx, "default", "doc1")
		if err == nil && p.Status == domain.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	p, err := st.Get(ctx, "default", "doc1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != domain.StatusCompleted {
		t.Fatalf("status = %v, want completed", p.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "extract" || order[1] != "partition" {
		t.Errorf("order = %v, want [extract partition]", order)
	}
}
