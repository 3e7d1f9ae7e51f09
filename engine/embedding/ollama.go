package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// OllamaGenerator calls a local Ollama server's /api/embeddings endpoint.
// Generalizes the teacher's pkg/ollama.EmbedClient from its fixed
// mlpb.EmbedServiceClient shape to the plain Generator interface.
type OllamaGenerator struct {
	name      string
	baseURL   string
	model     string
	dim       int
	maxTokens int
	client    *http.Client
	tiktokenCounter
}

func NewOllamaGenerator(name, baseURL, model string, dim, maxTokens int) *OllamaGenerator {
	return &OllamaGenerator{
		name:            name,
		baseURL:         baseURL,
		model:           model,
		dim:             dim,
		maxTokens:       maxTokens,
		client:          &http.Client{},
		tiktokenCounter: newTiktokenCounter(),
	}
}

func (o *OllamaGenerator) Name() string           { return o.name }
func (o *OllamaGenerator) MaxTokens() int         { return o.maxTokens }
func (o *OllamaGenerator) Dimensions() int        { return o.dim }
func (o *OllamaGenerator) CountTokens(s string) int { return o.count(s) }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (o *OllamaGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: o.model, Prompt: text})
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "encode ollama request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "ollama embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.KindTransientIO, fmt.Sprintf("ollama embed status %d", resp.StatusCode), nil)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "decode ollama response", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

var _ Generator = (*OllamaGenerator)(nil)
