package orchestrator

import (
	"context"
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/store"
	"github.com/microsoft/kernel-memory/engine/queue"
)

// InProcess runs a pipeline to completion within the calling goroutine —
// no queue, no distributed lock contention. Intended for local/dev use and
// for the synchronous part of import_* calls before handing off to a
// background worker.
type InProcess struct {
	store      store.PipelineStore
	handlers   Registry
	maxRetries int
}

func NewInProcess(st store.PipelineStore, handlers Registry) *InProcess {
	return &InProcess{store: st, handlers: handlers, maxRetries: queue.DefaultOptions().MaxRetriesBeforePoison}
}

// Run drives the manifest for (index, documentID) until it reaches
// Completed or Poisoned, retrying transient step failures with the
// same 1s*attempt backoff the queue drivers use.
func (o *InProcess) Run(ctx context.Context, index, documentID string) error {
	attempt := 0
	for {
		p, err := o.store.Get(ctx, index, documentID)
		if err != nil {
			return err
		}

		p, terminal, stepErr := runOneStep(ctx, o.store, o.handlers, p)
		if terminal {
			return stepErr
		}
		if stepErr == nil {
			attempt = 0
			continue
		}

		attempt++
		if attempt > o.maxRetries {
			p.Status = domain.StatusPoisoned
			p.FailureReason = stepErr.Error()
			expected := p.ExecutionID
			p.ExecutionID = ""
			_ = o.store.Save(ctx, p, expected)
			return stepErr
		}

		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
