// Package builder resolves a config.Config into concrete, wired
// collaborators (C10): one constructor call per enumerated driver option,
// failing fast with a domain.KindConfiguration error on any combination
// Build cannot resolve.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/microsoft/kernel-memory/engine/blobstore"
	"github.com/microsoft/kernel-memory/engine/config"
	"github.com/microsoft/kernel-memory/engine/decoders"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/embedding"
	"github.com/microsoft/kernel-memory/engine/generation"
	"github.com/microsoft/kernel-memory/engine/handlers"
	"github.com/microsoft/kernel-memory/engine/orchestrator"
	"github.com/microsoft/kernel-memory/engine/queue"
	"github.com/microsoft/kernel-memory/engine/search"
	"github.com/microsoft/kernel-memory/engine/store"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
	"github.com/microsoft/kernel-memory/engine/writeengine"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Orchestrator drives a single document's pipeline to its next state. The
// InProcess adapter runs synchronously to completion; the Distributed
// adapter just schedules the first step and returns — a worker elsewhere
// (started via Services.Distributed.Start) advances it step by step.
type Orchestrator interface {
	Run(ctx context.Context, index, documentID string) error
}

type inProcessAdapter struct{ o *orchestrator.InProcess }

func (a inProcessAdapter) Run(ctx context.Context, index, documentID string) error {
	return a.o.Run(ctx, index, documentID)
}

type distributedAdapter struct{ d *orchestrator.Distributed }

func (a distributedAdapter) Run(_ context.Context, index, documentID string) error {
	return a.d.Enqueue(index, documentID)
}

// Services bundles every resolved collaborator a caller needs to run the
// system.
type Services struct {
	Pipelines store.PipelineStore
	Contents  store.ContentStore
	Ops       store.OperationStore

	Queue queue.Queue
	Blobs blobstore.Store
	Index vectorindex.Index

	Decoders  *decoders.Registry
	Embedders *embedding.Registry
	Generator generation.Generator

	Write        *writeengine.Engine
	Orchestrator Orchestrator
	// Distributed is non-nil only when Config.Orchestration is Distributed;
	// the caller must call its Start once to begin consuming tasks.
	Distributed *orchestrator.Distributed
	Search      *search.Client

	// Closers are resources Build opened that the caller must release
	// (DB drivers, NATS connections) on shutdown.
	Closers []func(context.Context) error
}

// DeleteIndex removes name from every configured vector index backend, for
// the public API's delete_index operation (delete_index is a
// direct vector-store operation, not a per-document pipeline step).
func (s *Services) DeleteIndex(name string) error {
	return handlers.DeleteIndexFromVectorStores([]vectorindex.Index{s.Index}, name)
}

// Close releases every resource Build opened, in reverse order, returning
// the first error encountered while still attempting the rest.
func (s *Services) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.Closers) - 1; i >= 0; i-- {
		if err := s.Closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func configErr(reason string, wrapped error) error {
	return domain.NewError(domain.KindConfiguration, reason, wrapped)
}

// Build resolves cfg into a Services bundle. Every I/O-bearing construction
// (network dial, file handle) happens here so a caller discovers
// misconfiguration before accepting any traffic.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Services, error) {
	if log == nil {
		log = slog.Default()
	}
	svc := &Services{}

	if err := buildStores(ctx, cfg, svc); err != nil {
		return nil, err
	}
	if err := buildQueue(ctx, cfg, svc, log); err != nil {
		return nil, err
	}
	if err := buildBlobs(ctx, cfg, svc); err != nil {
		return nil, err
	}
	if err := buildVectorIndex(cfg, svc); err != nil {
		return nil, err
	}
	if err := buildDecoders(svc); err != nil {
		return nil, err
	}
	if err := buildEmbedders(cfg, svc); err != nil {
		return nil, err
	}
	if err := buildGenerator(cfg, svc); err != nil {
		return nil, err
	}

	secondaryIndexes, err := buildSecondaryIndexes(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}
	svc.Write = writeengine.New(svc.Ops, svc.Contents, secondaryIndexes, log)

	deps := handlers.Deps{
		Decoders:      svc.Decoders,
		Embedders:     svc.Embedders,
		Summarizer:    svc.Generator,
		Blobs:         svc.Blobs,
		Write:         svc.Write,
		IndexIDs:      indexIDs(cfg),
		MaxTokens:     handlers.DefaultPartitionTokens,
		OverlapTokens: handlers.DefaultPartitionOverlap,
	}
	registry := orchestrator.Registry{
		"extract":         handlers.Extract(deps),
		"partition":       handlers.Partition(deps),
		"summarize":       handlers.Summarize(deps),
		"gen_embeddings":  handlers.GenEmbeddings(deps),
		"save_embeddings": handlers.SaveEmbeddings(deps),
		"delete_document": handlers.DeleteDocument(deps),
	}

	switch cfg.Orchestration {
	case config.OrchestrationInProcess, "":
		svc.Orchestrator = inProcessAdapter{orchestrator.NewInProcess(svc.Pipelines, registry)}
	case config.OrchestrationDistributed:
		if svc.Queue == nil {
			return nil, configErr("distributed orchestration requires a queue driver", nil)
		}
		dist := orchestrator.NewDistributed(svc.Queue, svc.Pipelines, registry, log)
		svc.Distributed = dist
		svc.Orchestrator = distributedAdapter{dist}
	default:
		return nil, configErr(fmt.Sprintf("unknown orchestration type %q", cfg.Orchestration), nil)
	}

	if len(svc.Embedders.Generators()) > 0 && svc.Generator != nil {
		svc.Search = search.New(svc.Index, svc.Embedders.Generators()[0], svc.Generator, log)
	}

	return svc, nil
}

func buildStores(ctx context.Context, cfg config.Config, svc *Services) error {
	switch cfg.Store {
	case config.StoreInMemory, "":
		svc.Pipelines = store.NewInMemoryPipelineStore()
		svc.Contents = store.NewInMemoryContentStore()
		svc.Ops = store.NewInMemoryOperationStore()
		return nil
	case config.StoreNeo4j:
		if cfg.Neo4jURL == "" {
			return configErr("neo4j store requested but neo4j_url is empty", nil)
		}
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return configErr("dial neo4j", err)
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			return configErr("verify neo4j connectivity", err)
		}
		svc.Pipelines = store.NewNeo4jPipelineStore(driver)
		svc.Contents = store.NewNeo4jContentStore(driver)
		svc.Ops = store.NewNeo4jOperationStore(driver)
		svc.Closers = append(svc.Closers, driver.Close)
		return nil
	default:
		return configErr(fmt.Sprintf("unknown store driver %q", cfg.Store), nil)
	}
}

func buildQueue(ctx context.Context, cfg config.Config, svc *Services, log *slog.Logger) error {
	opts := queue.Options{
		MaxRetriesBeforePoison: cfg.Retry.MaxRetriesBeforePoison,
		MessageTTL:             cfg.Retry.MessageTTL,
		PoisonSuffix:           cfg.Retry.PoisonSuffix,
		FetchLockSecs:          cfg.Retry.FetchLockSecs,
		PollDelayMsecs:         cfg.Retry.PollDelayMsecs,
		FetchBatchSize:         cfg.Retry.FetchBatchSize,
	}
	switch cfg.Queue {
	case config.QueueLocalFile, "":
		svc.Queue = queue.NewLocalFileQueue(opts)
		return nil
	case config.QueueBroker, config.QueueManagedQueue:
		if cfg.NATSURL == "" {
			return configErr(fmt.Sprintf("%s queue driver requires nats_url", cfg.Queue), nil)
		}
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return configErr("dial nats", err)
		}
		q, err := queue.NewJetStreamQueue(ctx, nc, cfg.QueueName, opts, log)
		if err != nil {
			nc.Close()
			return configErr("init jetstream queue", err)
		}
		svc.Queue = q
		svc.Closers = append(svc.Closers, func(context.Context) error {
			nc.Close()
			return nil
		})
		return nil
	default:
		return configErr(fmt.Sprintf("unknown queue driver %q", cfg.Queue), nil)
	}
}

func buildBlobs(ctx context.Context, cfg config.Config, svc *Services) error {
	switch cfg.Blob {
	case config.BlobLocalFile, "":
		if cfg.DataDir == "" {
			return configErr("local_file blob driver requires data_dir", nil)
		}
		svc.Blobs = blobstore.NewLocalFileStore(cfg.DataDir)
		return nil
	case config.BlobObjectStore:
		if cfg.S3Bucket == "" {
			return configErr("object_store blob driver requires s3_bucket", nil)
		}
		s3Store, err := blobstore.NewS3Store(ctx, cfg.S3Bucket)
		if err != nil {
			return configErr("init s3 store", err)
		}
		svc.Blobs = s3Store
		return nil
	default:
		return configErr(fmt.Sprintf("unknown blob driver %q", cfg.Blob), nil)
	}
}

func buildVectorIndex(cfg config.Config, svc *Services) error {
	switch cfg.Vector {
	case config.VectorLocalFile, "":
		svc.Index = vectorindex.NewLocalFileIndex()
		return nil
	case config.VectorStandaloneVectorDB:
		if cfg.QdrantAddr == "" {
			return configErr("standalone_vector_db vector driver requires qdrant_addr", nil)
		}
		idx, err := vectorindex.NewQdrantIndex(cfg.QdrantAddr)
		if err != nil {
			return configErr("dial qdrant", err)
		}
		svc.Index = idx
		return nil
	case config.VectorManagedSearch, config.VectorPostgresWithVector:
		return configErr(fmt.Sprintf("vector driver %q has no implementation in this build", cfg.Vector), nil)
	default:
		return configErr(fmt.Sprintf("unknown vector driver %q", cfg.Vector), nil)
	}
}

func buildDecoders(svc *Services) error {
	svc.Decoders = decoders.NewRegistry(
		decoders.PlainTextDecoder{},
		decoders.MarkdownDecoder{},
		decoders.HTMLDecoder{},
	)
	return nil
}

func buildEmbedders(cfg config.Config, svc *Services) error {
	var gens []embedding.Generator
	for _, g := range cfg.Embedders {
		cred, err := g.ResolveCredential()
		if err != nil {
			return configErr("resolve embedder credential", err)
		}
		dim := g.Dimensions
		if dim == 0 {
			dim = 768
		}
		maxTok := g.MaxTokens
		if maxTok == 0 {
			maxTok = 8192
		}
		switch config.EmbeddingProvider(g.Provider) {
		case config.EmbeddingProviderOllama:
			gens = append(gens, embedding.NewOllamaGenerator(g.Name, g.Endpoint, g.Model, dim, maxTok))
		case config.EmbeddingProviderHTTP:
			gens = append(gens, embedding.NewHTTPGenerator(g.Name, g.Endpoint, cred, g.Model, dim, maxTok))
		default:
			return configErr(fmt.Sprintf("unknown embedding provider %q for generator %q", g.Provider, g.Name), nil)
		}
	}
	svc.Embedders = embedding.NewRegistry(gens...)
	return nil
}

func buildGenerator(cfg config.Config, svc *Services) error {
	if cfg.Generator.Name == "" {
		return nil
	}
	cred, err := cfg.Generator.ResolveCredential()
	if err != nil {
		return configErr("resolve generator credential", err)
	}
	maxTok := cfg.Generator.MaxTokens
	if maxTok == 0 {
		maxTok = 4096
	}
	switch config.GenerationProvider(cfg.Generator.Provider) {
	case config.GenerationProviderAnthropic:
		svc.Generator = generation.NewAnthropicGenerator(cfg.Generator.Name, cred, anthropic.Model(cfg.Generator.Model), maxTok)
	default:
		return configErr(fmt.Sprintf("unknown generation provider %q", cfg.Generator.Provider), nil)
	}
	return nil
}

// buildSecondaryIndexes creates every configured collection (idempotent,
// per vectorindex.Index.CreateIndex) and adapts it into one
// writeengine.SecondaryIndex per (index, embedder) pair, each keyed by its
// own "<collection>:<generator>" id (WriteEngineAdapter.ID), so
// gen_embeddings' per-generator vectors each reach their own collection
// through their own WriteEngineAdapter instead of colliding on a shared
// per-collection key.
func buildSecondaryIndexes(ctx context.Context, cfg config.Config, svc *Services) ([]writeengine.SecondaryIndex, error) {
	if svc.Index == nil {
		return nil, nil
	}
	var out []writeengine.SecondaryIndex
	for _, idx := range cfg.Indexes {
		if err := svc.Index.CreateIndex(ctx, idx.Name, idx.Dimensions); err != nil {
			return nil, configErr(fmt.Sprintf("create index %q", idx.Name), err)
		}
		for _, g := range svc.Embedders.Generators() {
			out = append(out, vectorindex.NewWriteEngineAdapter(idx.Name, g.Name(), svc.Index))
		}
	}
	return out, nil
}

func indexIDs(cfg config.Config) []string {
	ids := make([]string, 0, len(cfg.Indexes))
	for _, idx := range cfg.Indexes {
		ids = append(ids, idx.Name)
	}
	return ids
}
