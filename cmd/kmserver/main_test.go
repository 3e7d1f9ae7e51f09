package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	kernelmemory "github.com/microsoft/kernel-memory"
	"github.com/microsoft/kernel-memory/engine/blobstore"
	"github.com/microsoft/kernel-memory/engine/builder"
	"github.com/microsoft/kernel-memory/engine/decoders"
	"github.com/microsoft/kernel-memory/engine/embedding"
	"github.com/microsoft/kernel-memory/engine/generation"
	"github.com/microsoft/kernel-memory/engine/handlers"
	"github.com/microsoft/kernel-memory/engine/orchestrator"
	"github.com/microsoft/kernel-memory/engine/search"
	"github.com/microsoft/kernel-memory/engine/store"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
	"github.com/microsoft/kernel-memory/engine/writeengine"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Name() string                { return "fake" }
func (fakeEmbedder) CountTokens(s string) int     { return len(s) }
func (fakeEmbedder) MaxTokens() int               { return 8192 }
func (fakeEmbedder) Dimensions() int              { return 3 }
func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Name() string            { return "fake" }
func (fakeGenerator) CountTokens(s string) int { return len(s) }
func (fakeGenerator) MaxTokens() int           { return 4096 }
func (fakeGenerator) Generate(context.Context, string, generation.Options) (<-chan string, <-chan error) {
	tokens := make(chan string, 1)
	errs := make(chan error, 1)
	tokens <- "an answer"
	close(tokens)
	errs <- nil
	close(errs)
	return tokens, errs
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	embedder := fakeEmbedder{}
	generator := fakeGenerator{}

	pipelines := store.NewInMemoryPipelineStore()
	contents := store.NewInMemoryContentStore()
	ops := store.NewInMemoryOperationStore()
	blobs := blobstore.NewLocalFileStore(t.TempDir())
	index := vectorindex.NewLocalFileIndex()
	embedders := embedding.NewRegistry(embedder)

	write := writeengine.New(ops, contents, []writeengine.SecondaryIndex{
		vectorindex.NewWriteEngineAdapter("default", embedder.Name(), index),
	}, nil)

	deps := handlers.Deps{
		Decoders:  decoders.NewRegistry(decoders.PlainTextDecoder{}, decoders.HTMLDecoder{}),
		Embedders: embedders,
		Blobs:     blobs,
		Write:     write,
		IndexIDs:  []string{"default"},
	}
	registry := orchestrator.Registry{
		"extract":         handlers.Extract(deps),
		"partition":       handlers.Partition(deps),
		"gen_embeddings":  handlers.GenEmbeddings(deps),
		"save_embeddings": handlers.SaveEmbeddings(deps),
		"delete_document": handlers.DeleteDocument(deps),
	}

	svc := &builder.Services{
		Pipelines:    pipelines,
		Contents:     contents,
		Ops:          ops,
		Blobs:        blobs,
		Index:        index,
		Decoders:     deps.Decoders,
		Embedders:    embedders,
		Generator:    generator,
		Write:        write,
		Orchestrator: orchestrator.NewInProcess(pipelines, registry),
	}
	svc.Search = search.New(index, embedder, generator, nil)

	km := kernelmemory.New(svc, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /text", handleImportText(km, slog.Default()))
	mux.HandleFunc("GET /documents/{index}/{id}/ready", handleIsDocumentReady(km, slog.Default()))
	mux.HandleFunc("GET /ask", handleAsk(km, slog.Default()))
	mux.HandleFunc("GET /search", handleSearch(km, slog.Default()))
	mux.HandleFunc("DELETE /indexes/{index}", handleDeleteIndex(km, slog.Default()))
	return mux
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestImportTextThenAsk(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{
		"text":  "the sky is blue and the grass is green.",
		"index": "default",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/text", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("import text: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var importResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &importResp); err != nil {
		t.Fatalf("decode import response: %v", err)
	}
	docID := importResp["document_id"]
	if docID == "" {
		t.Fatal("expected a document id")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/default/"+docID+"/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready check: expected 200, got %d", rec.Code)
	}
	var readyResp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &readyResp); err != nil {
		t.Fatalf("decode ready response: %v", err)
	}
	if !readyResp["ready"] {
		t.Fatal("expected document to be ready")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ask?q=what+color+is+the+sky&index=default", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ask: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAskWithoutQuestionIsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ask?index=default", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteReservedIndexIsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/indexes/default", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
