// Package domain defines the core entities shared by the orchestrator and
// the write engine: the caller-visible upload, the persistent pipeline
// manifest, memory records, write operations, and content records.
package domain

import "time"

// ArtifactType classifies a file or generated artifact within a pipeline.
type ArtifactType string

const (
	ArtifactUndefined            ArtifactType = "undefined"
	ArtifactText                 ArtifactType = "text"
	ArtifactTextPartition        ArtifactType = "text_partition"
	ArtifactTextEmbeddingVector  ArtifactType = "text_embedding_vector"
	ArtifactSyntheticData        ArtifactType = "synthetic_data"
)

// DefaultSteps is the step list used when a DocumentUpload specifies none.
var DefaultSteps = []string{"extract", "partition", "gen_embeddings", "save_embeddings"}

// File is a caller-supplied upload artifact.
type File struct {
	Name  string `json:"name"`
	Bytes []byte `json:"bytes"`
	Mime  string `json:"mime"`
}

// Tags is a multimap: one key may hold many values.
type Tags map[string][]string

// Add appends a value under key.
func (t Tags) Add(key, value string) {
	t[key] = append(t[key], value)
}

// Has reports whether key=value is present.
func (t Tags) Has(key, value string) bool {
	for _, v := range t[key] {
		if v == value {
			return true
		}
	}
	return false
}

// DocumentUpload is the caller-visible submission that starts a pipeline.
type DocumentUpload struct {
	Index      string   `json:"index"`
	DocumentID string   `json:"document_id"`
	Files      []File   `json:"files"`
	Tags       Tags     `json:"tags"`
	Steps      []string `json:"steps"`
}

// GeneratedFile is a derived artifact produced by a pipeline step.
type GeneratedFile struct {
	ID           string       `json:"id"`
	ParentID     string       `json:"parent_id"`
	Name         string       `json:"name"`
	ArtifactType ArtifactType `json:"artifact_type"`
	ContentSHA   string       `json:"content_sha,omitempty"`
	Size         int          `json:"size"`
}

// PipelineFile is a File enriched with its derived artifacts.
type PipelineFile struct {
	File
	ArtifactType   ArtifactType    `json:"artifact_type"`
	GeneratedFiles []GeneratedFile `json:"generated_files"`
}

// PipelineStatus is the coarse lifecycle state of a Pipeline.
type PipelineStatus string

const (
	StatusQueued     PipelineStatus = "queued"
	StatusProcessing PipelineStatus = "processing"
	StatusCompleted  PipelineStatus = "completed"
	StatusPoisoned   PipelineStatus = "poisoned"
)

// Pipeline is the persistent per-document ingestion manifest. It is the
// single source of truth between handler steps.
//
// Invariant: set(completed_steps) ∪ set(remaining_steps) == set(planned
// at creation) and the two sets never intersect.
type Pipeline struct {
	Index           string         `json:"index"`
	DocumentID      string         `json:"document_id"`
	Files           []PipelineFile `json:"files"`
	Tags            Tags           `json:"tags"`
	CreationTime    time.Time      `json:"creation_time"`
	RemainingSteps  []string       `json:"remaining_steps"`
	CompletedSteps  []string       `json:"completed_steps"`
	LastUpdate      time.Time      `json:"last_update"`
	ExecutionID     string         `json:"execution_id"`
	Status          PipelineStatus `json:"status"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	Cancelled       bool           `json:"cancelled"`
	LockedBy        string         `json:"locked_by,omitempty"`
	LeaseExpiresAt  time.Time      `json:"lease_expires_at,omitempty"`
}

// NextStep returns the head of RemainingSteps, or "" if none remain.
func (p *Pipeline) NextStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}

// Advance moves the head of RemainingSteps onto the tail of CompletedSteps.
// It is a pure, copy-on-write style mutation: callers persist the result.
func (p *Pipeline) Advance() {
	if len(p.RemainingSteps) == 0 {
		return
	}
	step := p.RemainingSteps[0]
	p.RemainingSteps = p.RemainingSteps[1:]
	p.CompletedSteps = append(p.CompletedSteps, step)
	p.LastUpdate = p.LastUpdate
}

// PlannedSteps returns completed ⊕ remaining, reconstructing the original plan.
func (p *Pipeline) PlannedSteps() []string {
	out := make([]string, 0, len(p.CompletedSteps)+len(p.RemainingSteps))
	out = append(out, p.CompletedSteps...)
	out = append(out, p.RemainingSteps...)
	return out
}

// MemoryRecord is a single vector-indexed row.
type MemoryRecord struct {
	ID         string         `json:"id"`
	Vector     []float32      `json:"vector"`
	Tags       Tags           `json:"tags"`
	Payload    map[string]any `json:"payload"`
}

// OperationPayload carries either an upsert body or a delete marker.
// Vectors holds gen_embeddings' precomputed output keyed by generator name,
// so save_embeddings never recomputes an embedding the write engine
// already has durably queued.
type OperationPayload struct {
	IsDelete bool                  `json:"is_delete"`
	Content  []byte                `json:"content,omitempty"`
	Mime     string                `json:"mime,omitempty"`
	Title    string                `json:"title,omitempty"`
	Tags     Tags                  `json:"tags,omitempty"`
	Metadata map[string]any        `json:"metadata,omitempty"`
	Vectors  map[string][]float32  `json:"vectors,omitempty"`
}

// Operation is a durable write-engine queue row.
type Operation struct {
	ID             string           `json:"id"`
	ContentID      string           `json:"content_id"`
	Timestamp      time.Time        `json:"timestamp"`
	PlannedSteps   []string         `json:"planned_steps"`
	CompletedSteps []string         `json:"completed_steps"`
	RemainingSteps []string         `json:"remaining_steps"`
	Payload        OperationPayload `json:"payload"`
	Cancelled      bool             `json:"cancelled"`
	Complete       bool             `json:"complete"`
	LastAttemptAt  *time.Time       `json:"last_attempt_at,omitempty"`
	LastFailure    string           `json:"last_failure,omitempty"`
}

// IsUpsertPlan reports whether this operation's plan begins with "upsert".
func (o *Operation) IsUpsertPlan() bool {
	return len(o.PlannedSteps) > 0 && o.PlannedSteps[0] == "upsert"
}

// ContentRecord is the primary row for a piece of externally-visible content.
type ContentRecord struct {
	ID          string         `json:"id"`
	Content     []byte         `json:"content"`
	Mime        string         `json:"mime"`
	ByteSize    int            `json:"byte_size"`
	Ready       bool           `json:"ready"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        Tags           `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpsertPlan builds the planned-steps list for an Upsert operation against
// the given secondary index ids.
func UpsertPlan(indexIDs []string) []string {
	plan := make([]string, 0, len(indexIDs)+1)
	plan = append(plan, "upsert")
	for _, id := range indexIDs {
		plan = append(plan, "index:"+id)
	}
	return plan
}

// DeletePlan builds the planned-steps list for a Delete operation.
func DeletePlan(indexIDs []string) []string {
	plan := make([]string, 0, len(indexIDs)+1)
	plan = append(plan, "delete")
	for _, id := range indexIDs {
		plan = append(plan, "index:"+id+":delete")
	}
	return plan
}
