package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// HTTPGenerator calls any OpenAI-compatible /embeddings endpoint (OpenAI
// itself, Azure OpenAI, or a local gateway exposing the same shape).
type HTTPGenerator struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	dim        int
	maxTokens  int
	client     *http.Client
	tiktokenCounter
}

func NewHTTPGenerator(name, baseURL, apiKey, model string, dim, maxTokens int) *HTTPGenerator {
	return &HTTPGenerator{
		name:            name,
		baseURL:         baseURL,
		apiKey:          apiKey,
		model:           model,
		dim:             dim,
		maxTokens:       maxTokens,
		client:          &http.Client{},
		tiktokenCounter: newTiktokenCounter(),
	}
}

func (h *HTTPGenerator) Name() string             { return h.name }
func (h *HTTPGenerator) MaxTokens() int           { return h.maxTokens }
func (h *HTTPGenerator) Dimensions() int          { return h.dim }
func (h *HTTPGenerator) CountTokens(s string) int { return h.count(s) }

type openAIEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (h *HTTPGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbedReq{Model: h.model, Input: text})
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "encode embedding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "embedding request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.KindTransientIO, fmt.Sprintf("embedding status %d", resp.StatusCode), nil)
	}

	var result openAIEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewError(domain.KindTransientIO, "decode embedding response", err)
	}
	if len(result.Data) == 0 {
		return nil, domain.NewError(domain.KindTransientIO, "embedding response had no data", nil)
	}
	return result.Data[0].Embedding, nil
}

var _ Generator = (*HTTPGenerator)(nil)
