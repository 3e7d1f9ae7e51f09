package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsDependencyFree(t *testing.T) {
	cfg := Default()
	if cfg.Orchestration != OrchestrationInProcess {
		t.Errorf("expected in_process orchestration, got %s", cfg.Orchestration)
	}
	if cfg.Queue != QueueLocalFile || cfg.Blob != BlobLocalFile || cfg.Vector != VectorLocalFile {
		t.Error("expected every driver to default to local_file")
	}
	if cfg.Store != StoreInMemory {
		t.Errorf("expected in_memory store, got %s", cfg.Store)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue != QueueLocalFile {
		t.Errorf("expected default queue driver, got %s", cfg.Queue)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "km.yaml")
	yaml := []byte("queue_driver: broker\nvector_driver: standalone_vector_db\nqdrant_addr: qdrant:6334\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue != QueueBroker {
		t.Errorf("expected broker queue driver from yaml, got %s", cfg.Queue)
	}
	if cfg.Vector != VectorStandaloneVectorDB || cfg.QdrantAddr != "qdrant:6334" {
		t.Errorf("expected yaml vector config to apply, got %+v", cfg)
	}
	// Untouched fields keep their Default() value.
	if cfg.Blob != BlobLocalFile {
		t.Errorf("expected blob driver to stay at default, got %s", cfg.Blob)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "km.yaml")
	if err := os.WriteFile(path, []byte("queue_driver: broker\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KM_QUEUE_DRIVER", "local_file")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue != QueueLocalFile {
		t.Errorf("expected env var to win over yaml, got %s", cfg.Queue)
	}
}

func TestLoadEnvOverridesRetryInts(t *testing.T) {
	t.Setenv("KM_MAX_RETRIES_BEFORE_POISON", "5")
	t.Setenv("KM_FETCH_BATCH_SIZE", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxRetriesBeforePoison != 5 {
		t.Errorf("expected overridden retry count 5, got %d", cfg.Retry.MaxRetriesBeforePoison)
	}
	if cfg.Retry.FetchBatchSize != DefaultRetryConfig().FetchBatchSize {
		t.Errorf("expected invalid env int to fall back to default, got %d", cfg.Retry.FetchBatchSize)
	}
}

func TestResolveCredentialModes(t *testing.T) {
	lit := GeneratorConfig{Name: "lit", CredentialMode: CredentialLiteral, Credential: "abc"}
	if v, err := lit.ResolveCredential(); err != nil || v != "abc" {
		t.Fatalf("literal credential: got (%q, %v)", v, err)
	}

	t.Setenv("TEST_KM_API_KEY", "shh")
	env := GeneratorConfig{Name: "env", CredentialMode: CredentialEnvVar, CredentialEnv: "TEST_KM_API_KEY"}
	if v, err := env.ResolveCredential(); err != nil || v != "shh" {
		t.Fatalf("env credential: got (%q, %v)", v, err)
	}

	missing := GeneratorConfig{Name: "missing", CredentialMode: CredentialEnvVar, CredentialEnv: "TEST_KM_UNSET_VAR"}
	if _, err := missing.ResolveCredential(); err == nil {
		t.Fatal("expected error for unset credential env var")
	}

	none := GeneratorConfig{Name: "none"}
	if v, err := none.ResolveCredential(); err != nil || v != "" {
		t.Fatalf("default credential mode: got (%q, %v)", v, err)
	}
}
