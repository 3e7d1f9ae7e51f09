// Package orchestrator drives the per-document pipeline state machine (C6):
// an ordered list of handler steps persisted in a Pipeline manifest that
// survives restarts. Generalizes the teacher's fixed five-stage
// Validate→Parse→Chunk→Embed→Store chain (engine/ingest.NewPipeline) into a
// manifest-driven chain whose steps come from the document's own
// remaining_steps list.
package orchestrator

import (
	"context"
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/store"
)

// Handler executes one named step against the pipeline's current state.
// Implementations mutate files/generated-files on p as needed; the
// orchestrator core owns advancing RemainingSteps/CompletedSteps and
// persisting the manifest.
type Handler func(ctx context.Context, step string, p *domain.Pipeline) error

// Registry maps step name to Handler; every name in DefaultSteps (and any
// custom step a caller plans) must have an entry or the step permanently
// fails with "unknown step".
type Registry map[string]Handler

// leaseDuration is how long a claimed pipeline's advisory lock is held
// before another worker may recover it.
const leaseDuration = 2 * time.Minute

// runOneStep executes exactly one step of p and persists the result with
// compare-and-swap on execution_id. It reports whether the pipeline reached
// a terminal state (Completed or Poisoned) and the step error, if any.
func runOneStep(ctx context.Context, st store.PipelineStore, handlers Registry, p domain.Pipeline) (domain.Pipeline, bool, error) {
	if p.Cancelled {
		return p, true, nil
	}

	step := p.NextStep()
	if step == "" {
		p.Status = domain.StatusCompleted
		p.LastUpdate = time.Now().UTC()
		expected := p.ExecutionID
		p.ExecutionID = ""
		if err := st.Save(ctx, p, expected); err != nil {
			return p, false, err
		}
		return p, true, nil
	}

	handler, ok := handlers[step]
	if !ok {
		p.Status = domain.StatusPoisoned
		p.FailureReason = "unknown step " + step
		p.LastUpdate = time.Now().UTC()
		expected := p.ExecutionID
		p.ExecutionID = ""
		_ = st.Save(ctx, p, expected)
		return p, true, domain.NewError(domain.KindPermanentIO, p.FailureReason, nil)
	}

	p.Status = domain.StatusProcessing
	err := handler(ctx, step, &p)
	p.LastUpdate = time.Now().UTC()

	if err == nil {
		p.Advance()
		if len(p.RemainingSteps) == 0 {
			p.Status = domain.StatusCompleted
		}
		expected := p.ExecutionID
		p.ExecutionID = ""
		if serr := st.Save(ctx, p, expected); serr != nil {
			return p, false, serr
		}
		return p, len(p.RemainingSteps) == 0, nil
	}

	if domain.IsPermanent(err) {
		p.Status = domain.StatusPoisoned
		p.FailureReason = err.Error()
		expected := p.ExecutionID
		p.ExecutionID = ""
		_ = st.Save(ctx, p, expected)
		return p, true, err
	}

	// Transient (or cancelled): leave the step unconsumed for retry, but
	// persist the failure reason for observability.
	p.FailureReason = err.Error()
	expected := p.ExecutionID
	p.ExecutionID = ""
	_ = st.Save(ctx, p, expected)
	return p, false, err
}

// acquireLease takes the per-document advisory lock (invariant: at most one
// worker holds it at a time) by CAS-ing LockedBy/LeaseExpiresAt onto a
// Pipeline whose lock is either free or expired.
func acquireLease(ctx context.Context, st store.PipelineStore, index, documentID, workerID string) (domain.Pipeline, bool, error) {
	p, err := st.Get(ctx, index, documentID)
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	now := time.Now().UTC()
	if p.LockedBy != "" && p.LockedBy != workerID && p.LeaseExpiresAt.After(now) {
		return domain.Pipeline{}, false, nil
	}

	expected := p.ExecutionID
	p.LockedBy = workerID
	p.LeaseExpiresAt = now.Add(leaseDuration)
	p.ExecutionID = ""
	if err := st.Save(ctx, p, expected); err != nil {
		if domain.IsTransient(err) {
			return domain.Pipeline{}, false, nil
		}
		return domain.Pipeline{}, false, err
	}

	p, err = st.Get(ctx, index, documentID)
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	return p, true, nil
}

func releaseLease(ctx context.Context, st store.PipelineStore, p domain.Pipeline) {
	p.LockedBy = ""
	p.LeaseExpiresAt = time.Time{}
	expected := p.ExecutionID
	p.ExecutionID = ""
	_ = st.Save(ctx, p, expected)
}
