// Package store provides durable persistence for Pipelines, Operations, and
// ContentRecords (C1/C4), backed by Neo4j with explicit transactions so the
// write engine's compare-and-swap lock and the manifest's optimistic
// concurrency are genuine ACID operations, not best-effort. An
// in-memory implementation of every store backs unit tests and the
// LocalFile configuration profile.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ContentStore persists ContentRecords (C1).
type ContentStore interface {
	Get(ctx context.Context, id string) (domain.ContentRecord, error)
	Upsert(ctx context.Context, rec domain.ContentRecord) error
	SetReady(ctx context.Context, id string, ready bool) error
	Delete(ctx context.Context, id string) error
}

var ErrNotFound = fmt.Errorf("not found")

// --- Neo4j-backed implementation ---

// Neo4jContentStore is the Neo4j-backed ContentStore, grounded on the
// generic repository's label/property conventions but using explicit
// transactions for the atomic ready-flag flip the write engine depends on.
type Neo4jContentStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jContentStore(driver neo4j.DriverWithContext) *Neo4jContentStore {
	return &Neo4jContentStore{driver: driver}
}

func (s *Neo4jContentStore) Get(ctx context.Context, id string) (domain.ContentRecord, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	rec, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (domain.ContentRecord, error) {
		result, err := tx.Run(ctx, "MATCH (c:ContentRecord {id: $id}) RETURN c", map[string]any{"id": id})
		if err != nil {
			return domain.ContentRecord{}, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return domain.ContentRecord{}, ErrNotFound
		}
		return contentFromNode(record)
	})
	return rec, err
}

func (s *Neo4jContentStore) Upsert(ctx context.Context, rec domain.ContentRecord) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		props, err := contentToProps(rec)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, `
			MERGE (c:ContentRecord {id: $id})
			SET c += $props`,
			map[string]any{"id": rec.ID, "props": props})
		return nil, err
	})
	return err
}

func (s *Neo4jContentStore) SetReady(ctx context.Context, id string, ready bool) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (c:ContentRecord {id: $id})
			SET c.ready = $ready, c.updated_at = $now`,
			map[string]any{"id": id, "ready": ready, "now": time.Now().UTC().Format(time.RFC3339Nano)})
		return nil, err
	})
	return err
}

func (s *Neo4jContentStore) Delete(ctx context.Context, id string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (c:ContentRecord {id: $id}) DETACH DELETE c", map[string]any{"id": id})
		return nil, err
	})
	return err
}

func contentToProps(rec domain.ContentRecord) (map[string]any, error) {
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return map[string]any{
		"id":          rec.ID,
		"content":     rec.Content,
		"mime":        rec.Mime,
		"byte_size":   rec.ByteSize,
		"ready":       rec.Ready,
		"created_at":  createdAt.Format(time.RFC3339Nano),
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"title":       rec.Title,
		"description": rec.Description,
		"tags":        string(tagsJSON),
		"metadata":    string(metaJSON),
	}, nil
}

func contentFromNode(record *neo4j.Record) (domain.ContentRecord, error) {
	nodeVal, ok := record.Get("c")
	if !ok {
		return domain.ContentRecord{}, ErrNotFound
	}
	node, ok := nodeVal.(neo4j.Node)
	if !ok {
		return domain.ContentRecord{}, fmt.Errorf("store: unexpected node type")
	}
	props := node.Props

	var tags domain.Tags
	if s, ok := props["tags"].(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &tags)
	}
	var meta map[string]any
	if s, ok := props["metadata"].(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &meta)
	}

	rec := domain.ContentRecord{
		ID:          asString(props["id"]),
		Mime:        asString(props["mime"]),
		Ready:       asBool(props["ready"]),
		Title:       asString(props["title"]),
		Description: asString(props["description"]),
		Tags:        tags,
		Metadata:    meta,
	}
	if b, ok := props["content"].([]byte); ok {
		rec.Content = b
	}
	if n, ok := props["byte_size"].(int64); ok {
		rec.ByteSize = int(n)
	}
	rec.CreatedAt = asTime(props["created_at"])
	rec.UpdatedAt = asTime(props["updated_at"])
	return rec, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- In-memory implementation (tests, LocalFile profile) ---

// InMemoryContentStore implements ContentStore without any external
// dependency; it is the store behind the LocalFile configuration profile.
type InMemoryContentStore struct {
	mu   sync.Mutex
	data map[string]domain.ContentRecord
}

func NewInMemoryContentStore() *InMemoryContentStore {
	return &InMemoryContentStore{data: make(map[string]domain.ContentRecord)}
}

func (s *InMemoryContentStore) Get(_ context.Context, id string) (domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		return domain.ContentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryContentStore) Upsert(_ context.Context, rec domain.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	s.data[rec.ID] = rec
	return nil
}

func (s *InMemoryContentStore) SetReady(_ context.Context, id string, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	rec.Ready = ready
	rec.UpdatedAt = time.Now().UTC()
	s.data[id] = rec
	return nil
}

func (s *InMemoryContentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

var (
	_ ContentStore = (*Neo4jContentStore)(nil)
	_ ContentStore = (*InMemoryContentStore)(nil)
)
