package domain

import (
	"reflect"
	"testing"
)

func TestPipelineAdvance(t *testing.T) {
	p := &Pipeline{
		RemainingSteps: []string{"extract", "partition", "gen_embeddings"},
		CompletedSteps: []string{},
	}
	p.Advance()
	if got, want := p.CompletedSteps, []string{"extract"}; !reflect.DeepEqual(got, want) {
		t.Errorf("CompletedSteps = %v, want %v", got, want)
	}
	if got, want := p.RemainingSteps, []string{"partition", "gen_embeddings"}; !reflect.DeepEqual(got, want) {
		t.Errorf("RemainingSteps = %v, want %v", got, want)
	}
}

func TestPipelinePlannedStepsInvariant(t *testing.T) {
	p := &Pipeline{
		RemainingSteps: []string{"save_embeddings"},
		CompletedSteps: []string{"extract", "partition", "gen_embeddings"},
	}
	planned := p.PlannedSteps()
	want := []string{"extract", "partition", "gen_embeddings", "save_embeddings"}
	if !reflect.DeepEqual(planned, want) {
		t.Errorf("PlannedSteps = %v, want %v", planned, want)
	}
}

func TestPipelineNextStepEmpty(t *testing.T) {
	p := &Pipeline{}
	if got := p.NextStep(); got != "" {
		t.Errorf("NextStep() on empty pipeline = %q, want empty", got)
	}
}

func TestUpsertPlan(t *testing.T) {
	plan := UpsertPlan([]string{"default", "archive"})
	want := []string{"upsert", "index:default", "index:archive"}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("UpsertPlan = %v, want %v", plan, want)
	}
}

func TestDeletePlan(t *testing.T) {
	plan := DeletePlan([]string{"default"})
	want := []string{"delete", "index:default:delete"}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("DeletePlan = %v, want %v", plan, want)
	}
}

func TestOperationIsUpsertPlan(t *testing.T) {
	op := &Operation{PlannedSteps: []string{"upsert", "index:default"}}
	if !op.IsUpsertPlan() {
		t.Error("expected IsUpsertPlan true")
	}
	op2 := &Operation{PlannedSteps: []string{"delete", "index:default:delete"}}
	if op2.IsUpsertPlan() {
		t.Error("expected IsUpsertPlan false for delete plan")
	}
}
