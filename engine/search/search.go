// Package search implements the search client (C9): embed a question,
// fan out to a vector index, assemble a facts block within the generator's
// token budget, and stream an answer. Generalizes the teacher's
// single-collection RAG service (engine/rag) to any configured index and
// driver, and drops its knowledge-graph enrichment step — out of scope here.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/engine/embedding"
	"github.com/microsoft/kernel-memory/engine/generation"
	"github.com/microsoft/kernel-memory/engine/vectorindex"
)

// NoResultAnswer is returned when the assembled facts block is empty.
const NoResultAnswer = "INFO NOT FOUND"

// Source cites a single retrieved partition backing an answer.
type Source struct {
	RecordID string      `json:"record_id"`
	Score    float32     `json:"score"`
	Tags     domain.Tags `json:"tags,omitempty"`
}

// AskResult is the structured response of Ask.
type AskResult struct {
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	NoResult        bool     `json:"no_result"`
	RelevantSources []Source `json:"relevant_sources,omitempty"`
}

// Client is the search/ask collaborator.
type Client struct {
	index     vectorindex.Index
	embedder  embedding.Generator
	generator generation.Generator
	log       *slog.Logger
}

func New(index vectorindex.Index, embedder embedding.Generator, generator generation.Generator, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{index: index, embedder: embedder, generator: generator, log: log}
}

// Search returns matching partitions without calling the generator.
func (c *Client) Search(ctx context.Context, collection string, query string, filters []vectorindex.Filter, minRelevance float32, limit int) ([]vectorindex.SearchResult, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "embed query", err)
	}
	results, err := c.index.GetSimilar(ctx, collection, vec, filters, minRelevance, limit)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "search index "+collection, err)
	}
	return results, nil
}

// Ask runs the full retrieve-then-generate pipeline.
func (c *Client) Ask(ctx context.Context, collection string, question string, filters []vectorindex.Filter, minRelevance float32, limit int) (*AskResult, error) {
	results, err := c.Search(ctx, collection, question, filters, minRelevance, limit)
	if err != nil {
		return nil, err
	}
	c.log.Info("search: ask", "collection", collection, "candidates", len(results))

	facts, sources := c.assembleFacts(question, results)
	if facts == "" {
		return &AskResult{Question: question, Answer: NoResultAnswer, NoResult: true}, nil
	}

	prompt := fmt.Sprintf("Facts:\n%s\nQuestion: %s\nAnswer: ", facts, question)

	tokens, errs := c.generator.Generate(ctx, prompt, generation.Options{MaxTokens: c.generator.MaxTokens()})
	var b strings.Builder
	for tok := range tokens {
		b.WriteString(tok)
	}
	if err := <-errs; err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "generate answer", err)
	}

	return &AskResult{
		Question:        question,
		Answer:          b.String(),
		NoResult:        false,
		RelevantSources: sources,
	}, nil
}

// assembleFacts concatenates results, annotated with source name and
// relevance, until the generator's token budget (minus room reserved for
// the answer) would be exceeded.
func (c *Client) assembleFacts(question string, results []vectorindex.SearchResult) (string, []Source) {
	budget := c.generator.MaxTokens() - c.generator.CountTokens(question) - reservedAnswerTokens
	if budget <= 0 {
		return "", nil
	}

	var b strings.Builder
	used := 0
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		content, _ := r.Record.Payload["content"].(string)
		if content == "" {
			continue
		}
		name, _ := r.Record.Payload["title"].(string)
		if name == "" {
			name = r.Record.ID
		}
		part := fmt.Sprintf("[%s] (relevance: %.3f)\n%s\n", name, r.Score, content)
		partTokens := c.generator.CountTokens(part)
		if used+partTokens > budget {
			break
		}
		b.WriteString(part)
		used += partTokens
		sources = append(sources, Source{RecordID: r.Record.ID, Score: r.Score, Tags: r.Record.Tags})
	}
	return b.String(), sources
}

// reservedAnswerTokens leaves headroom in the context window for the
// generator's own reply, separate from the facts block.
const reservedAnswerTokens = 256
