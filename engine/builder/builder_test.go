package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/microsoft/kernel-memory/engine/config"
	"github.com/microsoft/kernel-memory/engine/domain"
)

func TestBuildDefaultConfigWiresEveryCollaborator(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Indexes = []config.IndexConfig{{Name: "default", Dimensions: 8}}

	svc, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if svc.Pipelines == nil || svc.Contents == nil || svc.Ops == nil {
		t.Error("expected in-memory stores to be wired")
	}
	if svc.Queue == nil {
		t.Error("expected local-file queue to be wired")
	}
	if svc.Blobs == nil {
		t.Error("expected local-file blob store to be wired")
	}
	if svc.Index == nil {
		t.Error("expected local-file vector index to be wired")
	}
	if svc.Write == nil {
		t.Error("expected write engine to be wired")
	}
	if svc.Orchestrator == nil {
		t.Error("expected an orchestrator to be wired")
	}
	if svc.Distributed != nil {
		t.Error("in_process orchestration should leave Distributed nil")
	}
}

func TestBuildNeo4jStoreWithoutURLIsConfigurationError(t *testing.T) {
	cfg := config.Default()
	cfg.Store = config.StoreNeo4j

	_, err := Build(context.Background(), cfg, nil)
	assertConfigurationError(t, err)
}

func TestBuildDistributedOrchestrationRequiresNATSQueue(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestration = config.OrchestrationDistributed
	cfg.Queue = config.QueueBroker
	// NATSURL intentionally left empty.

	_, err := Build(context.Background(), cfg, nil)
	assertConfigurationError(t, err)
}

func TestBuildUnimplementedVectorDriverIsConfigurationError(t *testing.T) {
	cfg := config.Default()
	cfg.Vector = config.VectorManagedSearch

	_, err := Build(context.Background(), cfg, nil)
	assertConfigurationError(t, err)
}

func TestBuildUnknownDriverNamesAreConfigurationErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Queue = "carrier-pigeon"

	_, err := Build(context.Background(), cfg, nil)
	assertConfigurationError(t, err)
}

func assertConfigurationError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain.Error, got %T: %v", err, err)
	}
	if domainErr.Kind != domain.KindConfiguration {
		t.Fatalf("expected Configuration kind, got %s", domainErr.Kind)
	}
}
