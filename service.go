// Package kernelmemory is the public Go API surface: a Service facade over
// the wired engine/builder.Services, mirroring the operation list 1:1
// (import_document, import_text, import_web_page, is_document_ready, ask,
// search, delete_document, delete_index, list_indexes).
package kernelmemory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/kernel-memory/engine/builder"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/search"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
)

// IndexInfo summarizes a configured retrieval collection, per
// list_indexes' operation contract.
type IndexInfo struct {
	Name string `json:"name"`
}

// Service is the facade every caller (cmd/kmserver, library consumers)
// drives. It owns no state of its own beyond the wired collaborators;
// every operation is a thin orchestration over builder.Services.
type Service struct {
	svc *builder.Services
	log *slog.Logger
}

// New wraps an already-built Services bundle. Use engine/builder.Build to
// construct one from engine/config.Config.
func New(svc *builder.Services, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{svc: svc, log: log}
}

// ImportDocument starts an ingestion pipeline for upload and returns its
// document id, generating one if the caller left it blank. Validation
// failures (empty upload, malformed tags, bad index name) are returned
// synchronously; everything else happens behind is_document_ready.
func (s *Service) ImportDocument(ctx context.Context, upload domain.DocumentUpload) (string, error) {
	index, err := domain.NormalizeIndexName(upload.Index)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateUpload(upload); err != nil {
		return "", err
	}

	documentID := upload.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	steps := upload.Steps
	if len(steps) == 0 {
		steps = domain.DefaultSteps
	}

	files := make([]domain.PipelineFile, len(upload.Files))
	for i, f := range upload.Files {
		files[i] = domain.PipelineFile{File: f}
	}

	now := time.Now().UTC()
	p := domain.Pipeline{
		Index:          index,
		DocumentID:     documentID,
		Files:          files,
		Tags:           upload.Tags,
		CreationTime:   now,
		LastUpdate:     now,
		RemainingSteps: steps,
		Status:         domain.StatusQueued,
	}
	if err := s.svc.Pipelines.Save(ctx, p, ""); err != nil {
		return "", err
	}

	if err := s.svc.Orchestrator.Run(ctx, index, documentID); err != nil {
		s.log.Warn("import_document: orchestrator run failed", "index", index, "document_id", documentID, "error", err)
		return documentID, err
	}
	return documentID, nil
}

// ImportText wraps text as a single text/plain file and imports it, per
// import_text's convenience-operation contract.
func (s *Service) ImportText(ctx context.Context, text string, tags domain.Tags, index, documentID string, steps []string) (string, error) {
	return s.ImportDocument(ctx, domain.DocumentUpload{
		Index:      index,
		DocumentID: documentID,
		Tags:       tags,
		Steps:      steps,
		Files: []domain.File{{
			Name:  "text.txt",
			Bytes: []byte(text),
			Mime:  "text/plain",
		}},
	})
}

// ImportWebPage fetches url and imports its body as text/html, per the
// import_web_page convenience operation. Grounded on the teacher's
// scraper fetch-then-ingest shape, stripped to a single synchronous GET —
// the teacher's own multi-source crawl scheduling/retry policy is out of
// scope for this single-page convenience call.
func (s *Service) ImportWebPage(ctx context.Context, url string, tags domain.Tags, index, documentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.NewValidationError("url", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", domain.NewError(domain.KindTransientIO, "fetch web page", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", domain.NewError(domain.KindTransientIO, fmt.Sprintf("fetch web page: status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return "", domain.NewError(domain.KindPermanentIO, fmt.Sprintf("fetch web page: status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewError(domain.KindTransientIO, "read web page body", err)
	}

	return s.ImportDocument(ctx, domain.DocumentUpload{
		Index:      index,
		DocumentID: documentID,
		Tags:       tags,
		Files: []domain.File{{
			Name:  url,
			Bytes: body,
			Mime:  "text/html",
		}},
	})
}

// IsDocumentReady reports whether (index, document_id)'s pipeline has
// reached Completed. A missing pipeline is not ready (never imported, or
// already deleted).
func (s *Service) IsDocumentReady(ctx context.Context, index, documentID string) (bool, error) {
	normalized, err := domain.NormalizeIndexName(index)
	if err != nil {
		return false, err
	}
	p, err := s.svc.Pipelines.Get(ctx, normalized, documentID)
	if err != nil {
		return false, nil
	}
	return p.Status == domain.StatusCompleted, nil
}

func (s *Service) requireSearch() error {
	if s.svc.Search == nil {
		return domain.NewError(domain.KindConfiguration, "no embedding generator and text generator are both configured for search", nil)
	}
	return nil
}

// Ask runs the full retrieve-then-generate flow against index.
func (s *Service) Ask(ctx context.Context, question, index string, filters []vectorindex.Filter, minRelevance float32, limit int) (*search.AskResult, error) {
	if err := s.requireSearch(); err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeIndexName(index)
	if err != nil {
		return nil, err
	}
	return s.svc.Search.Ask(ctx, normalized, question, filters, minRelevance, limit)
}

// Search returns matching partitions without generating an answer.
func (s *Service) Search(ctx context.Context, query, index string, filters []vectorindex.Filter, limit int) ([]vectorindex.SearchResult, error) {
	if err := s.requireSearch(); err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeIndexName(index)
	if err != nil {
		return nil, err
	}
	return s.svc.Search.Search(ctx, normalized, query, filters, 0, limit)
}

// DeleteDocument removes a document's blobs and vector records by running
// a single-step "delete_document" pipeline through the same orchestrator
// as ingestion, so distributed deployments get the same lease/retry
// protection on delete as on import.
func (s *Service) DeleteDocument(ctx context.Context, index, documentID string) error {
	normalized, err := domain.NormalizeIndexName(index)
	if err != nil {
		return err
	}

	existing, err := s.svc.Pipelines.Get(ctx, normalized, documentID)
	if err != nil {
		existing = domain.Pipeline{Index: normalized, DocumentID: documentID}
	}

	now := time.Now().UTC()
	existing.RemainingSteps = []string{"delete_document"}
	existing.CompletedSteps = nil
	existing.Status = domain.StatusQueued
	existing.LastUpdate = now
	if err := s.svc.Pipelines.Save(ctx, existing, ""); err != nil {
		return err
	}
	return s.svc.Orchestrator.Run(ctx, normalized, documentID)
}

// DeleteIndex removes an entire collection, rejecting the reserved
// "default" index.
func (s *Service) DeleteIndex(ctx context.Context, index string) error {
	normalized, err := domain.NormalizeIndexName(index)
	if err != nil {
		return err
	}
	if domain.IsReservedIndexName(normalized) {
		return domain.NewValidationError("index", index, domain.ErrReservedIndexName)
	}
	return s.svc.DeleteIndex(normalized)
}

// ListIndexes returns every configured collection.
func (s *Service) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	names, err := s.svc.Index.ListIndexes(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "list indexes", err)
	}
	out := make([]IndexInfo, len(names))
	for i, n := range names {
		out[i] = IndexInfo{Name: n}
	}
	return out, nil
}
