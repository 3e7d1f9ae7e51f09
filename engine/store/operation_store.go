package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// OperationStore persists write-engine Operations (C1) and implements the
// compare-and-swap claim that is the write engine's only locking primitive
// (at most one locked Operation per content_id).
type OperationStore interface {
	// Insert durably inserts a new pending Operation (phase 1) and returns its id.
	Insert(ctx context.Context, op domain.Operation) (string, error)
	// SupersedePendingUpserts marks every non-complete, older, upsert-planned
	// operation for contentID as cancelled (phase 2, best effort).
	SupersedePendingUpserts(ctx context.Context, contentID string, newerThan time.Time) error
	// OldestIncomplete returns the oldest non-complete operation for contentID, if any.
	OldestIncomplete(ctx context.Context, contentID string) (domain.Operation, bool, error)
	// Claim atomically sets last_attempt_at if it is currently null. claimed
	// is false if another worker already holds the lock.
	Claim(ctx context.Context, opID string, now time.Time) (claimed bool, err error)
	// Update persists the operation's progress (remaining/completed steps, failure).
	Update(ctx context.Context, op domain.Operation) error
	// Complete marks the operation complete.
	Complete(ctx context.Context, opID string) error
}

// --- Neo4j-backed implementation ---

type Neo4jOperationStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jOperationStore(driver neo4j.DriverWithContext) *Neo4jOperationStore {
	return &Neo4jOperationStore{driver: driver}
}

func (s *Neo4jOperationStore) Insert(ctx context.Context, op domain.Operation) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	id, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (string, error) {
		props, err := operationToProps(op)
		if err != nil {
			return "", err
		}
		_, err = tx.Run(ctx, "CREATE (o:Operation $props)", map[string]any{"props": props})
		return op.ID, err
	})
	return id, err
}

func (s *Neo4jOperationStore) SupersedePendingUpserts(ctx context.Context, contentID string, newerThan time.Time) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (o:Operation {content_id: $contentID})
			WHERE o.complete = false AND o.timestamp < $ts AND o.planned_steps_json CONTAINS '"upsert"'
			SET o.cancelled = true`,
			map[string]any{"contentID": contentID, "ts": newerThan.Format(time.RFC3339Nano)})
		return nil, err
	})
	return err
}

func (s *Neo4jOperationStore) OldestIncomplete(ctx context.Context, contentID string) (domain.Operation, bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	op, found, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (opResult, error) {
		result, err := tx.Run(ctx, `
			MATCH (o:Operation {content_id: $contentID})
			WHERE o.complete = false
			RETURN o ORDER BY o.timestamp ASC LIMIT 1`,
			map[string]any{"contentID": contentID})
		if err != nil {
			return opResult{}, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return opResult{}, nil
		}
		op, err := operationFromNode(record)
		if err != nil {
			return opResult{}, err
		}
		return opResult{op: op, found: true}, nil
	})
	return op.op, op.found, err
}

type opResult struct {
	op    domain.Operation
	found bool
}

// Claim is the CAS step: UPDATE ... WHERE
// last_attempt_at IS NULL. It reports claimed=false (not an error) when
// another worker won the race.
func (s *Neo4jOperationStore) Claim(ctx context.Context, opID string, now time.Time) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	claimed, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (bool, error) {
		result, err := tx.Run(ctx, `
			MATCH (o:Operation {id: $id})
			WHERE o.last_attempt_at IS NULL
			SET o.last_attempt_at = $now
			RETURN o`,
			map[string]any{"id": opID, "now": now.Format(time.RFC3339Nano)})
		if err != nil {
			return false, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return false, err
		}
		return summary.Counters().PropertiesSet() > 0, nil
	})
	return claimed, err
}

func (s *Neo4jOperationStore) Update(ctx context.Context, op domain.Operation) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		props, err := operationToProps(op)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, "MATCH (o:Operation {id: $id}) SET o += $props", map[string]any{"id": op.ID, "props": props})
		return nil, err
	})
	return err
}

func (s *Neo4jOperationStore) Complete(ctx context.Context, opID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (o:Operation {id: $id}) SET o.complete = true", map[string]any{"id": opID})
		return nil, err
	})
	return err
}

func operationToProps(op domain.Operation) (map[string]any, error) {
	plannedJSON, _ := json.Marshal(op.PlannedSteps)
	completedJSON, _ := json.Marshal(op.CompletedSteps)
	remainingJSON, _ := json.Marshal(op.RemainingSteps)
	payloadJSON, err := json.Marshal(op.Payload)
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"id":                  op.ID,
		"content_id":          op.ContentID,
		"timestamp":           op.Timestamp.Format(time.RFC3339Nano),
		"planned_steps_json":  string(plannedJSON),
		"completed_steps_json": string(completedJSON),
		"remaining_steps_json": string(remainingJSON),
		"payload_json":        string(payloadJSON),
		"cancelled":           op.Cancelled,
		"complete":            op.Complete,
		"last_failure":        op.LastFailure,
	}
	if op.LastAttemptAt != nil {
		props["last_attempt_at"] = op.LastAttemptAt.Format(time.RFC3339Nano)
	}
	return props, nil
}

func operationFromNode(record *neo4j.Record) (domain.Operation, error) {
	nodeVal, ok := record.Get("o")
	if !ok {
		return domain.Operation{}, fmt.Errorf("store: missing operation node")
	}
	node, ok := nodeVal.(neo4j.Node)
	if !ok {
		return domain.Operation{}, fmt.Errorf("store: unexpected node type")
	}
	props := node.Props

	var op domain.Operation
	op.ID = asString(props["id"])
	op.ContentID = asString(props["content_id"])
	op.Timestamp = asTime(props["timestamp"])
	op.Cancelled = asBool(props["cancelled"])
	op.Complete = asBool(props["complete"])
	op.LastFailure = asString(props["last_failure"])
	_ = json.Unmarshal([]byte(asString(props["planned_steps_json"])), &op.PlannedSteps)
	_ = json.Unmarshal([]byte(asString(props["completed_steps_json"])), &op.CompletedSteps)
	_ = json.Unmarshal([]byte(asString(props["remaining_steps_json"])), &op.RemainingSteps)
	_ = json.Unmarshal([]byte(asString(props["payload_json"])), &op.Payload)
	if s, ok := props["last_attempt_at"].(string); ok && s != "" {
		t := asTime(s)
		op.LastAttemptAt = &t
	}
	return op, nil
}

// --- In-memory implementation ---

type InMemoryOperationStore struct {
	mu   sync.Mutex
	ops  map[string]*domain.Operation
	byContent map[string][]string
}

func NewInMemoryOperationStore() *InMemoryOperationStore {
	return &InMemoryOperationStore{
		ops:       make(map[string]*domain.Operation),
		byContent: make(map[string][]string),
	}
}

func (s *InMemoryOperationStore) Insert(_ context.Context, op domain.Operation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	cp := op
	s.ops[op.ID] = &cp
	s.byContent[op.ContentID] = append(s.byContent[op.ContentID], op.ID)
	return op.ID, nil
}

func (s *InMemoryOperationStore) SupersedePendingUpserts(_ context.Context, contentID string, newerThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byContent[contentID] {
		op := s.ops[id]
		if op.Complete || !op.Timestamp.Before(newerThan) {
			continue
		}
		if !op.IsUpsertPlan() {
			continue
		}
		op.Cancelled = true
	}
	return nil
}

func (s *InMemoryOperationStore) OldestIncomplete(_ context.Context, contentID string) (domain.Operation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.byContent[contentID]...)
	sort.Slice(ids, func(i, j int) bool {
		return s.ops[ids[i]].Timestamp.Before(s.ops[ids[j]].Timestamp)
	})
	for _, id := range ids {
		op := s.ops[id]
		if !op.Complete {
			return *op, true, nil
		}
	}
	return domain.Operation{}, false, nil
}

func (s *InMemoryOperationStore) Claim(_ context.Context, opID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[opID]
	if !ok {
		return false, fmt.Errorf("operation %s not found", opID)
	}
	if op.LastAttemptAt != nil {
		return false, nil
	}
	t := now
	op.LastAttemptAt = &t
	return true, nil
}

func (s *InMemoryOperationStore) Update(_ context.Context, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; !ok {
		return fmt.Errorf("operation %s not found", op.ID)
	}
	cp := op
	s.ops[op.ID] = &cp
	return nil
}

func (s *InMemoryOperationStore) Complete(_ context.Context, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[opID]
	if !ok {
		return fmt.Errorf("operation %s not found", opID)
	}
	op.Complete = true
	return nil
}

var (
	_ OperationStore = (*Neo4jOperationStore)(nil)
	_ OperationStore = (*InMemoryOperationStore)(nil)
)
