// Package main implements the Kernel Memory HTTP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	kernelmemory "github.com/microsoft/kernel-memory"
	"github.com/microsoft/kernel-memory/engine/builder"
	"github.com/microsoft/kernel-memory/engine/config"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
	"github.com/microsoft/kernel-memory/pkg/metrics"
	"github.com/microsoft/kernel-memory/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(envOr("KM_CONFIG_FILE", ""))
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := builder.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svc.Close(context.Background())

	if svc.Distributed != nil {
		if err := svc.Distributed.Start(); err != nil {
			return fmt.Errorf("start distributed orchestrator: %w", err)
		}
	}

	km := kernelmemory.New(svc, logger)
	reg := metrics.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /documents", handleImportDocument(km, logger))
	mux.HandleFunc("POST /text", handleImportText(km, logger))
	mux.HandleFunc("POST /web", handleImportWebPage(km, logger))
	mux.HandleFunc("GET /documents/{index}/{id}/ready", handleIsDocumentReady(km, logger))
	mux.HandleFunc("DELETE /documents/{index}/{id}", handleDeleteDocument(km, logger))
	mux.HandleFunc("GET /ask", handleAsk(km, logger))
	mux.HandleFunc("GET /search", handleSearch(km, logger))
	mux.HandleFunc("DELETE /indexes/{index}", handleDeleteIndex(km, logger))
	mux.HandleFunc("GET /indexes", handleListIndexes(km, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("kernelmemory"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // ask responses stream; no fixed deadline
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kmserver starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError maps a domain.Error's Kind to an HTTP status; anything else is
// a 500, since every collaborator returns a domain.Error or a
// domain.ValidationError on the error paths the HTTP layer needs to
// distinguish.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	var validationErr *domain.ValidationError
	var domainErr *domain.Error
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &domainErr):
		switch domainErr.Kind {
		case domain.KindValidation:
			status = http.StatusBadRequest
		case domain.KindConfiguration:
			status = http.StatusServiceUnavailable
		case domain.KindConflict:
			status = http.StatusConflict
		case domain.KindCancelled:
			status = http.StatusRequestTimeout
		case domain.KindTransientIO, domain.KindPermanentIO:
			status = http.StatusBadGateway
		}
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func handleImportDocument(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upload domain.DocumentUpload
		if err := json.NewDecoder(r.Body).Decode(&upload); err != nil {
			writeError(w, logger, domain.NewValidationError("body", "", err))
			return
		}
		documentID, err := km.ImportDocument(r.Context(), upload)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"document_id": documentID})
	}
}

type importTextRequest struct {
	Text       string      `json:"text"`
	Index      string      `json:"index"`
	DocumentID string      `json:"document_id"`
	Tags       domain.Tags `json:"tags"`
	Steps      []string    `json:"steps"`
}

func handleImportText(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, domain.NewValidationError("body", "", err))
			return
		}
		documentID, err := km.ImportText(r.Context(), req.Text, req.Tags, req.Index, req.DocumentID, req.Steps)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"document_id": documentID})
	}
}

type importWebPageRequest struct {
	URL        string      `json:"url"`
	Index      string      `json:"index"`
	DocumentID string      `json:"document_id"`
	Tags       domain.Tags `json:"tags"`
}

func handleImportWebPage(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importWebPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, domain.NewValidationError("body", "", err))
			return
		}
		documentID, err := km.ImportWebPage(r.Context(), req.URL, req.Tags, req.Index, req.DocumentID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"document_id": documentID})
	}
}

func handleIsDocumentReady(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, err := km.IsDocumentReady(r.Context(), r.PathValue("index"), r.PathValue("id"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
	}
}

func handleDeleteDocument(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := km.DeleteDocument(r.Context(), r.PathValue("index"), r.PathValue("id")); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteIndex(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := km.DeleteIndex(r.Context(), r.PathValue("index")); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListIndexes(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexes, err := km.ListIndexes(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(indexes)
	}
}

// queryFilters builds a single Filter (AND of its key=value pairs) from
// repeated ?tag=key:value query parameters. An empty result means "no
// filter", per the vector index driver's "empty filters match everything"
// rule.
func queryFilters(q interface{ Get(string) string }, values []string) []vectorindex.Filter {
	if len(values) == 0 {
		return nil
	}
	f := vectorindex.Filter{}
	for _, v := range values {
		k, val, ok := strings.Cut(v, ":")
		if !ok {
			continue
		}
		f[k] = val
	}
	if len(f) == 0 {
		return nil
	}
	return []vectorindex.Filter{f}
}

func handleAsk(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		question := q.Get("q")
		if question == "" {
			writeError(w, logger, domain.NewValidationError("q", "", errors.New("question is required")))
			return
		}
		index := q.Get("index")
		limit := 5
		if l := q.Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil {
				limit = n
			}
		}
		var minRelevance float32
		if mr := q.Get("min_relevance"); mr != "" {
			if f, err := strconv.ParseFloat(mr, 32); err == nil {
				minRelevance = float32(f)
			}
		}
		filters := queryFilters(q, q["tag"])

		result, err := km.Ask(r.Context(), question, index, filters, minRelevance, limit)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleSearch(km *kernelmemory.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := q.Get("q")
		if query == "" {
			writeError(w, logger, domain.NewValidationError("q", "", errors.New("query is required")))
			return
		}
		index := q.Get("index")
		limit := 10
		if l := q.Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil {
				limit = n
			}
		}
		filters := queryFilters(q, q["tag"])

		results, err := km.Search(r.Context(), query, index, filters, limit)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}
