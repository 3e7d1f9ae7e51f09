package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// PipelineStore persists the per-document ingestion manifest (C4) with
// optimistic concurrency on execution_id, per the shared-resource policy.
type PipelineStore interface {
	Get(ctx context.Context, index, documentID string) (domain.Pipeline, error)
	// Save writes the manifest, failing with a Conflict error if
	// expectedExecutionID no longer matches the stored value (empty string
	// on first save).
	Save(ctx context.Context, p domain.Pipeline, expectedExecutionID string) error
	Delete(ctx context.Context, index, documentID string) error
}

func pipelineKey(index, documentID string) string { return index + "/" + documentID }

// --- Neo4j-backed implementation ---

type Neo4jPipelineStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jPipelineStore(driver neo4j.DriverWithContext) *Neo4jPipelineStore {
	return &Neo4jPipelineStore{driver: driver}
}

func (s *Neo4jPipelineStore) Get(ctx context.Context, index, documentID string) (domain.Pipeline, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (domain.Pipeline, error) {
		result, err := tx.Run(ctx, "MATCH (p:Pipeline {key: $key}) RETURN p", map[string]any{"key": pipelineKey(index, documentID)})
		if err != nil {
			return domain.Pipeline{}, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return domain.Pipeline{}, ErrNotFound
		}
		return pipelineFromNode(record)
	})
}

func (s *Neo4jPipelineStore) Save(ctx context.Context, p domain.Pipeline, expectedExecutionID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		if p.ExecutionID == "" {
			p.ExecutionID = uuid.NewString()
		}
		props, err := pipelineToProps(p)
		if err != nil {
			return nil, err
		}

		if expectedExecutionID == "" {
			_, err = tx.Run(ctx, `MERGE (p:Pipeline {key: $key}) SET p += $props`,
				map[string]any{"key": pipelineKey(p.Index, p.DocumentID), "props": props})
			return nil, err
		}

		result, err := tx.Run(ctx, `
			MATCH (p:Pipeline {key: $key})
			WHERE p.execution_id = $expected
			SET p += $props`,
			map[string]any{"key": pipelineKey(p.Index, p.DocumentID), "expected": expectedExecutionID, "props": props})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		if summary.Counters().PropertiesSet() == 0 {
			return nil, domain.NewError(domain.KindConflict, "pipeline execution_id mismatch", nil)
		}
		return nil, nil
	})
	return err
}

func (s *Neo4jPipelineStore) Delete(ctx context.Context, index, documentID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (p:Pipeline {key: $key}) DETACH DELETE p", map[string]any{"key": pipelineKey(index, documentID)})
		return nil, err
	})
	return err
}

func pipelineToProps(p domain.Pipeline) (map[string]any, error) {
	filesJSON, err := json.Marshal(p.Files)
	if err != nil {
		return nil, err
	}
	tagsJSON, _ := json.Marshal(p.Tags)
	remainingJSON, _ := json.Marshal(p.RemainingSteps)
	completedJSON, _ := json.Marshal(p.CompletedSteps)

	creation := p.CreationTime
	if creation.IsZero() {
		creation = time.Now().UTC()
	}
	return map[string]any{
		"key":                 pipelineKey(p.Index, p.DocumentID),
		"index":               p.Index,
		"document_id":         p.DocumentID,
		"files_json":          string(filesJSON),
		"tags_json":           string(tagsJSON),
		"creation_time":       creation.Format(time.RFC3339Nano),
		"remaining_steps_json": string(remainingJSON),
		"completed_steps_json": string(completedJSON),
		"last_update":         time.Now().UTC().Format(time.RFC3339Nano),
		"execution_id":        p.ExecutionID,
		"status":              string(p.Status),
		"failure_reason":      p.FailureReason,
		"cancelled":           p.Cancelled,
		"locked_by":           p.LockedBy,
		"lease_expires_at":    p.LeaseExpiresAt.Format(time.RFC3339Nano),
	}, nil
}

func pipelineFromNode(record *neo4j.Record) (domain.Pipeline, error) {
	nodeVal, ok := record.Get("p")
	if !ok {
		return domain.Pipeline{}, ErrNotFound
	}
	node, ok := nodeVal.(neo4j.Node)
	if !ok {
		return domain.Pipeline{}, fmt.Errorf("store: unexpected node type")
	}
	props := node.Props

	var p domain.Pipeline
	p.Index = asString(props["index"])
	p.DocumentID = asString(props["document_id"])
	p.ExecutionID = asString(props["execution_id"])
	p.Status = domain.PipelineStatus(asString(props["status"]))
	p.FailureReason = asString(props["failure_reason"])
	p.Cancelled = asBool(props["cancelled"])
	p.LockedBy = asString(props["locked_by"])
	p.LeaseExpiresAt = asTime(props["lease_expires_at"])
	p.CreationTime = asTime(props["creation_time"])
	p.LastUpdate = asTime(props["last_update"])
	_ = json.Unmarshal([]byte(asString(props["files_json"])), &p.Files)
	_ = json.Unmarshal([]byte(asString(props["tags_json"])), &p.Tags)
	_ = json.Unmarshal([]byte(asString(props["remaining_steps_json"])), &p.RemainingSteps)
	_ = json.Unmarshal([]byte(asString(props["completed_steps_json"])), &p.CompletedSteps)
	return p, nil
}

// --- In-memory implementation ---

type InMemoryPipelineStore struct {
	mu   sync.Mutex
	data map[string]domain.Pipeline
}

func NewInMemoryPipelineStore() *InMemoryPipelineStore {
	return &InMemoryPipelineStore{data: make(map[string]domain.Pipeline)}
}

func (s *InMemoryPipelineStore) Get(_ context.Context, index, documentID string) (domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[pipelineKey(index, documentID)]
	if !ok {
		return domain.Pipeline{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryPipelineStore) Save(_ context.Context, p domain.Pipeline, expectedExecutionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pipelineKey(p.Index, p.DocumentID)
	if existing, ok := s.data[key]; ok && expectedExecutionID != "" && existing.ExecutionID != expectedExecutionID {
		return domain.NewError(domain.KindConflict, "pipeline execution_id mismatch", nil)
	}
	if p.ExecutionID == "" {
		p.ExecutionID = uuid.NewString()
	}
	p.LastUpdate = time.Now().UTC()
	s.data[key] = p
	return nil
}

func (s *InMemoryPipelineStore) Delete(_ context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, pipelineKey(index, documentID))
	return nil
}

var (
	_ PipelineStore = (*Neo4jPipelineStore)(nil)
	_ PipelineStore = (*InMemoryPipelineStore)(nil)
)
