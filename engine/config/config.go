// Package config defines the enumerated configuration surface and
// loads it the way the teacher's cmd/api loads its own Config: a YAML file
// read for defaults, then the scalar driver, connection, server and retry
// settings overlaid from the environment using the envOr idiom. The embedder
// and index lists, the generator block and the message TTL are not read from
// the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// OrchestrationType selects the pipeline driver.
type OrchestrationType string

const (
	OrchestrationInProcess  OrchestrationType = "in_process"
	OrchestrationDistributed OrchestrationType = "distributed"
)

// QueueDriver selects the message queue backing. ManagedQueue and
// Broker both resolve to the NATS JetStream driver — it is the only
// broker-backed queue implementation in this tree, and both names are
// treated as "a managed broker" rather than distinct wire protocols.
type QueueDriver string

const (
	QueueLocalFile    QueueDriver = "local_file"
	QueueBroker       QueueDriver = "broker"
	QueueManagedQueue QueueDriver = "managed_queue"
)

// BlobDriver selects the blob store backing.
type BlobDriver string

const (
	BlobLocalFile   BlobDriver = "local_file"
	BlobObjectStore BlobDriver = "object_store"
)

// VectorDriver selects the vector index backing. ManagedSearch and
// Postgres-with-vector are enumerated options with no driver in this
// tree (no managed-search or pgvector client is available) — requesting
// either is a Configuration error at Build time rather than a silent
// fallback.
type VectorDriver string

const (
	VectorLocalFile           VectorDriver = "local_file"
	VectorStandaloneVectorDB  VectorDriver = "standalone_vector_db"
	VectorManagedSearch       VectorDriver = "managed_search"
	VectorPostgresWithVector  VectorDriver = "postgres_with_vector"
)

// StoreDriver selects the pipeline/content/operation store backing. Not
// itself one of the enumerated options (persistence is treated
// as a given, not a driver choice) but the tree carries two real
// implementations, so Build still needs to pick one.
type StoreDriver string

const (
	StoreInMemory StoreDriver = "in_memory"
	StoreNeo4j    StoreDriver = "neo4j"
)

// EmbeddingProvider selects an embedding generator driver.
type EmbeddingProvider string

const (
	EmbeddingProviderOllama EmbeddingProvider = "ollama"
	EmbeddingProviderHTTP   EmbeddingProvider = "openai_compatible"
)

// GenerationProvider selects a text generator driver.
type GenerationProvider string

const (
	GenerationProviderAnthropic GenerationProvider = "anthropic"
)

// CredentialMode says where a provider's credential comes from.
type CredentialMode string

const (
	CredentialNone    CredentialMode = "none"
	CredentialLiteral CredentialMode = "literal"
	CredentialEnvVar  CredentialMode = "env_var"
)

// RetryConfig mirrors queue.Options; kept as its own struct here so YAML/env
// overlay doesn't need to import engine/queue.
type RetryConfig struct {
	MaxRetriesBeforePoison int           `yaml:"max_retries_before_poison"`
	MessageTTL             time.Duration `yaml:"message_ttl_secs"`
	PoisonSuffix           string        `yaml:"poison_suffix"`
	FetchLockSecs          int           `yaml:"fetch_lock_secs"`
	PollDelayMsecs         int           `yaml:"poll_delay_msecs"`
	FetchBatchSize         int           `yaml:"fetch_batch_size"`
}

// DefaultRetryConfig returns the mandated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetriesBeforePoison: 20,
		MessageTTL:             3600 * time.Second,
		PoisonSuffix:           "-poison",
		FetchLockSecs:          300,
		PollDelayMsecs:         100,
		FetchBatchSize:         3,
	}
}

// GeneratorConfig configures one embedding or text generator driver.
type GeneratorConfig struct {
	Name           string         `yaml:"name"`
	Provider       string         `yaml:"provider"`
	Model          string         `yaml:"model"`
	Endpoint       string         `yaml:"endpoint"`
	CredentialMode CredentialMode `yaml:"credential_mode"`
	CredentialEnv  string         `yaml:"credential_env"`
	Credential     string         `yaml:"credential"`
	Dimensions     int            `yaml:"dimensions"`
	MaxTokens      int            `yaml:"max_tokens"`
}

// ResolveCredential returns the configured driver's API key/token, reading
// an env var when CredentialMode is env_var.
func (g GeneratorConfig) ResolveCredential() (string, error) {
	switch g.CredentialMode {
	case CredentialNone, "":
		return "", nil
	case CredentialLiteral:
		return g.Credential, nil
	case CredentialEnvVar:
		v := os.Getenv(g.CredentialEnv)
		if v == "" {
			return "", fmt.Errorf("credential env var %q is unset for generator %q", g.CredentialEnv, g.Name)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unknown credential mode %q for generator %q", g.CredentialMode, g.Name)
	}
}

// IndexConfig names a retrieval index and the vector-collection dimension
// it was created with.
type IndexConfig struct {
	Name       string `yaml:"name"`
	Dimensions int    `yaml:"dimensions"`
}

// Config is the fully-resolved configuration surface, covering every
// enumerated option.
type Config struct {
	Orchestration OrchestrationType `yaml:"orchestration"`

	Queue       QueueDriver `yaml:"queue_driver"`
	QueueName   string      `yaml:"queue_name"`
	NATSURL     string      `yaml:"nats_url"`

	Blob     BlobDriver `yaml:"blob_driver"`
	DataDir  string     `yaml:"data_dir"`
	S3Bucket string     `yaml:"s3_bucket"`

	Vector     VectorDriver `yaml:"vector_driver"`
	QdrantAddr string       `yaml:"qdrant_addr"`

	Store     StoreDriver `yaml:"store_driver"`
	Neo4jURL  string      `yaml:"neo4j_url"`
	Neo4jUser string      `yaml:"neo4j_user"`
	Neo4jPass string      `yaml:"neo4j_pass"`

	Embedders  []GeneratorConfig `yaml:"embedders"`
	Generator  GeneratorConfig   `yaml:"generator"`
	Indexes    []IndexConfig     `yaml:"indexes"`

	Retry RetryConfig `yaml:"retry"`

	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Default returns the baseline configuration before YAML/env overlay: a
// single-node, dependency-free setup (LocalFile everything, in-memory
// stores, in-process orchestration) suitable for tests and local runs.
func Default() Config {
	return Config{
		Orchestration: OrchestrationInProcess,
		Queue:         QueueLocalFile,
		QueueName:     "km-ingest",
		Blob:          BlobLocalFile,
		DataDir:       "/tmp/kernel-memory-data",
		Vector:        VectorLocalFile,
		Store:         StoreInMemory,
		Retry:         DefaultRetryConfig(),
		Port:          "8080",
		CORSOrigin:    "*",
	}
}

// Load reads defaults from path (if it exists; a missing file is not an
// error — YAML is optional and env vars alone can drive a deployment),
// then overlays environment variables the way cmd/api's envOr does,
// one field at a time.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config yaml %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// no file on disk; env vars and Default() carry the config.
		default:
			return Config{}, fmt.Errorf("read config yaml %s: %w", path, err)
		}
	}

	cfg.Orchestration = OrchestrationType(envOr("KM_ORCHESTRATION", string(cfg.Orchestration)))
	cfg.Queue = QueueDriver(envOr("KM_QUEUE_DRIVER", string(cfg.Queue)))
	cfg.QueueName = envOr("KM_QUEUE_NAME", cfg.QueueName)
	cfg.NATSURL = envOr("KM_NATS_URL", cfg.NATSURL)
	cfg.Blob = BlobDriver(envOr("KM_BLOB_DRIVER", string(cfg.Blob)))
	cfg.DataDir = envOr("KM_DATA_DIR", cfg.DataDir)
	cfg.S3Bucket = envOr("KM_S3_BUCKET", cfg.S3Bucket)
	cfg.Vector = VectorDriver(envOr("KM_VECTOR_DRIVER", string(cfg.Vector)))
	cfg.QdrantAddr = envOr("KM_QDRANT_ADDR", cfg.QdrantAddr)
	cfg.Store = StoreDriver(envOr("KM_STORE_DRIVER", string(cfg.Store)))
	cfg.Neo4jURL = envOr("KM_NEO4J_URL", cfg.Neo4jURL)
	cfg.Neo4jUser = envOr("KM_NEO4J_USER", cfg.Neo4jUser)
	cfg.Neo4jPass = envOr("KM_NEO4J_PASS", cfg.Neo4jPass)
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.CORSOrigin = envOr("CORS_ORIGIN", cfg.CORSOrigin)

	cfg.Retry.MaxRetriesBeforePoison = envOrInt("KM_MAX_RETRIES_BEFORE_POISON", cfg.Retry.MaxRetriesBeforePoison)
	cfg.Retry.PoisonSuffix = envOr("KM_POISON_SUFFIX", cfg.Retry.PoisonSuffix)
	cfg.Retry.FetchLockSecs = envOrInt("KM_FETCH_LOCK_SECS", cfg.Retry.FetchLockSecs)
	cfg.Retry.PollDelayMsecs = envOrInt("KM_POLL_DELAY_MSECS", cfg.Retry.PollDelayMsecs)
	cfg.Retry.FetchBatchSize = envOrInt("KM_FETCH_BATCH_SIZE", cfg.Retry.FetchBatchSize)

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
