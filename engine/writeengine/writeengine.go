// Package writeengine implements the write-ahead content-operations engine
// (C7): a two-phase, queue-backed per-content write machine. Every mutation
// is durably enqueued first, then best-effort supersedes older pending
// operations for the same content id, then is executed under a
// compare-and-swap lock against the content record and every registered
// secondary index.
package writeengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/store"
)

// SecondaryIndex is a registered target for "index:<id>" / "index:<id>:delete"
// steps. Vector indexes implement this; id must be unique per registered
// collaborator (a collection with two configured embedding generators
// registers two SecondaryIndex entries, one per collection+generator pair,
// so one generator's adapter never overwrites another's in the registry).
// vectors carries any precomputed embeddings gen_embeddings attached to the
// operation, keyed by generator name.
type SecondaryIndex interface {
	ID() string
	Index(ctx context.Context, contentID string, rec domain.ContentRecord, vectors map[string][]float32) error
	Remove(ctx context.Context, contentID string) error
}

// Engine drives the write-ahead algorithm.
type Engine struct {
	ops     store.OperationStore
	content store.ContentStore
	indexes map[string]SecondaryIndex
	log     *slog.Logger
}

// New builds an Engine with its registered secondary indexes keyed by ID().
func New(ops store.OperationStore, content store.ContentStore, indexes []SecondaryIndex, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	byID := make(map[string]SecondaryIndex, len(indexes))
	for _, idx := range indexes {
		byID[idx.ID()] = idx
	}
	return &Engine{ops: ops, content: content, indexes: byID, log: log}
}

// Upsert durably enqueues an upsert operation, supersedes older pending
// upserts for the same content id, then attempts synchronous execution.
// A failure to execute synchronously is not an error: the operation stays
// queued for the background worker (Drain).
func (e *Engine) Upsert(ctx context.Context, contentID string, rec domain.ContentRecord, vectors map[string][]float32, indexIDs []string) (string, error) {
	rec.ID = contentID
	payload := domain.OperationPayload{
		Content:  rec.Content,
		Mime:     rec.Mime,
		Title:    rec.Title,
		Tags:     rec.Tags,
		Metadata: rec.Metadata,
		Vectors:  vectors,
	}
	return e.enqueue(ctx, contentID, domain.UpsertPlan(indexIDs), payload, true)
}

// Delete durably enqueues a delete operation. Delete operations are never
// superseded — they must drain (invariant 6).
func (e *Engine) Delete(ctx context.Context, contentID string, indexIDs []string) (string, error) {
	payload := domain.OperationPayload{IsDelete: true}
	return e.enqueue(ctx, contentID, domain.DeletePlan(indexIDs), payload, false)
}

func (e *Engine) enqueue(ctx context.Context, contentID string, plan []string, payload domain.OperationPayload, supersede bool) (string, error) {
	now := time.Now().UTC()
	op := domain.Operation{
		ID:             uuid.NewString(),
		ContentID:      contentID,
		Timestamp:      now,
		PlannedSteps:   plan,
		RemainingSteps: append([]string(nil), plan...),
		Payload:        payload,
	}

	// Phase 1 — mandatory durable enqueue.
	opID, err := e.ops.Insert(ctx, op)
	if err != nil {
		return "", domain.NewError(domain.KindTransientIO, "enqueue operation", err)
	}

	// Phase 2 — best-effort supersede; failures are swallowed and logged.
	if supersede {
		if err := e.ops.SupersedePendingUpserts(ctx, contentID, now); err != nil {
			e.log.Warn("writeengine: supersede failed", "content_id", contentID, "error", err)
		}
	}

	// Attempt synchronous claim-execute-release; a failure here just leaves
	// the operation queued for the background worker.
	if err := e.Drain(ctx, contentID); err != nil {
		e.log.Warn("writeengine: synchronous drain did not complete", "content_id", contentID, "error", err)
	}

	return opID, nil
}

// Drain recursively claims and executes the oldest incomplete operation for
// contentID until none remain, another worker owns the lock, or a step
// fails permanently.
func (e *Engine) Drain(ctx context.Context, contentID string) error {
	op, found, err := e.ops.OldestIncomplete(ctx, contentID)
	if err != nil {
		return domain.NewError(domain.KindTransientIO, "load oldest operation", err)
	}
	if !found {
		return nil
	}

	if op.Cancelled {
		if err := e.ops.Complete(ctx, op.ID); err != nil {
			return domain.NewError(domain.KindTransientIO, "complete cancelled operation", err)
		}
		return e.Drain(ctx, contentID)
	}

	if op.LastAttemptAt != nil {
		// Another worker owns it; no preemption, no recovery probes.
		return nil
	}

	claimedAt := time.Now().UTC()
	claimed, err := e.ops.Claim(ctx, op.ID, claimedAt)
	if err != nil {
		return domain.NewError(domain.KindTransientIO, "claim operation", err)
	}
	if !claimed {
		return nil
	}
	op.LastAttemptAt = &claimedAt

	if err := e.content.SetReady(ctx, contentID, false); err != nil {
		e.log.Warn("writeengine: set not-ready failed", "content_id", contentID, "error", err)
	}

	if err := e.execute(ctx, &op); err != nil {
		op.LastFailure = err.Error()
		if uerr := e.ops.Update(ctx, op); uerr != nil {
			e.log.Error("writeengine: failed to persist failure", "content_id", contentID, "error", uerr)
		}
		// Op stays Locked: terminal until manual recovery.
		return err
	}

	if err := e.ops.Complete(ctx, op.ID); err != nil {
		return domain.NewError(domain.KindTransientIO, "complete operation", err)
	}
	if err := e.content.SetReady(ctx, contentID, true); err != nil {
		e.log.Warn("writeengine: set ready failed", "content_id", contentID, "error", err)
	}

	return e.Drain(ctx, contentID)
}

func (e *Engine) execute(ctx context.Context, op *domain.Operation) error {
	for len(op.RemainingSteps) > 0 {
		step := op.RemainingSteps[0]
		if err := e.executeStep(ctx, op, step); err != nil {
			return err
		}
		op.RemainingSteps = op.RemainingSteps[1:]
		op.CompletedSteps = append(op.CompletedSteps, step)
		if err := e.ops.Update(ctx, *op); err != nil {
			return domain.NewError(domain.KindTransientIO, "persist step progress", err)
		}
	}
	return nil
}

func (e *Engine) executeStep(ctx context.Context, op *domain.Operation, step string) error {
	switch {
	case step == "upsert":
		rec := domain.ContentRecord{
			ID:       op.ContentID,
			Content:  op.Payload.Content,
			Mime:     op.Payload.Mime,
			ByteSize: len(op.Payload.Content),
			Title:    op.Payload.Title,
			Tags:     op.Payload.Tags,
			Metadata: op.Payload.Metadata,
		}
		if err := e.content.Upsert(ctx, rec); err != nil {
			return domain.NewError(domain.KindTransientIO, "upsert content", err)
		}
		return nil

	case step == "delete":
		if err := e.content.Delete(ctx, op.ContentID); err != nil {
			return domain.NewError(domain.KindTransientIO, "delete content", err)
		}
		return nil

	case isIndexDeleteStep(step):
		id := indexIDFromStep(step, true)
		idx, ok := e.indexes[id]
		if !ok {
			return domain.NewError(domain.KindPermanentIO, fmt.Sprintf("index %q not configured", id), domain.ErrIndexNotConfigured)
		}
		if err := idx.Remove(ctx, op.ContentID); err != nil {
			return domain.NewError(domain.KindTransientIO, "remove from index "+id, err)
		}
		return nil

	case isIndexStep(step):
		id := indexIDFromStep(step, false)
		idx, ok := e.indexes[id]
		if !ok {
			return domain.NewError(domain.KindPermanentIO, fmt.Sprintf("index %q not configured", id), domain.ErrIndexNotConfigured)
		}
		rec := domain.ContentRecord{
			ID:       op.ContentID,
			Content:  op.Payload.Content,
			Mime:     op.Payload.Mime,
			Title:    op.Payload.Title,
			Tags:     op.Payload.Tags,
			Metadata: op.Payload.Metadata,
		}
		if err := idx.Index(ctx, op.ContentID, rec, op.Payload.Vectors); err != nil {
			return domain.NewError(domain.KindTransientIO, "index into "+id, err)
		}
		return nil

	default:
		return domain.NewError(domain.KindPermanentIO, "unknown step "+step, nil)
	}
}

func isIndexStep(step string) bool {
	return len(step) > 6 && step[:6] == "index:" && !isIndexDeleteStep(step)
}

func isIndexDeleteStep(step string) bool {
	return len(step) > 6 && step[:6] == "index:" && len(step) > 7 && step[len(step)-7:] == ":delete"
}

func indexIDFromStep(step string, isDelete bool) string {
	id := step[len("index:"):]
	if isDelete {
		id = id[:len(id)-len(":delete")]
	}
	return id
}
