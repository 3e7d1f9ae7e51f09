package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/queue"
	"github.com/microsoft/kernel-memory/engine/store"
)

// taskMessage is the queue payload: "run the next available step for this
// document". One message advances at most one step; the handler re-enqueues
// itself for the next step, so a worker never monopolizes a slot on a whole
// pipeline (the per-worker suspension-at-I/O model).
type taskMessage struct {
	Index      string `json:"index"`
	DocumentID string `json:"document_id"`
}

// Distributed runs pipelines across many workers/processes over a shared
// queue and manifest store, holding a per-document advisory lock so at most
// one worker processes a given document at a time.
type Distributed struct {
	queue    queue.Queue
	store    store.PipelineStore
	handlers Registry
	workerID string
	log      *slog.Logger
}

func NewDistributed(q queue.Queue, st store.PipelineStore, handlers Registry, log *slog.Logger) *Distributed {
	if log == nil {
		log = slog.Default()
	}
	return &Distributed{queue: q, store: st, handlers: handlers, workerID: uuid.NewString(), log: log}
}

// Enqueue schedules the first step for a freshly created pipeline.
func (d *Distributed) Enqueue(index, documentID string) error {
	data, err := json.Marshal(taskMessage{Index: index, DocumentID: documentID})
	if err != nil {
		return domain.NewError(domain.KindValidation, "encode task", err)
	}
	return d.queue.Enqueue(data)
}

// Start begins consuming tasks; it returns immediately, delivering messages
// in the background until the underlying queue is closed.
func (d *Distributed) Start() error {
	return d.queue.Subscribe(d.handle)
}

func (d *Distributed) handle(msg queue.Message) error {
	var task taskMessage
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		return domain.NewError(domain.KindPermanentIO, "decode task", err)
	}

	ctx := context.Background()

	p, acquired, err := acquireLease(ctx, d.store, task.Index, task.DocumentID, d.workerID)
	if err != nil {
		return err
	}
	if !acquired {
		// Another worker holds the lease; treat as transient so the queue
		// redelivers later rather than poisoning a perfectly healthy task.
		return domain.NewError(domain.KindTransientIO, "document locked by another worker", nil)
	}
	defer releaseLease(ctx, d.store, p)

	p, terminal, stepErr := runOneStep(ctx, d.store, d.handlers, p)
	if stepErr != nil {
		d.log.Warn("orchestrator: step failed", "index", task.Index, "document_id", task.DocumentID, "error", stepErr)
		return stepErr
	}
	if terminal {
		return nil
	}

	// More steps remain: re-enqueue for the next one instead of looping
	// here, so the worker pool stays fair across documents.
	if err := d.Enqueue(task.Index, task.DocumentID); err != nil {
		return err
	}
	return nil
}
