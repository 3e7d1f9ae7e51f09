// Package embedding defines the embedding generator collaborator and
// its concrete drivers. Multiple generators may be registered; gen_embeddings
// fans a partition out to every configured one.
package embedding

import (
	"context"

	"github.com/pkoukk/tiktoken-go"
)

// Generator embeds text into a fixed-dimension vector and counts tokens
// against its own tokenizer.
type Generator interface {
	Name() string
	CountTokens(text string) int
	Embed(ctx context.Context, text string) ([]float32, error)
	MaxTokens() int
	Dimensions() int
}

// tiktokenCounter is shared by drivers whose provider doesn't expose its own
// tokenizer endpoint; cl100k_base is the closest stand-in across providers.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTiktokenCounter() tiktokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return tiktokenCounter{}
	}
	return tiktokenCounter{enc: enc}
}

func (c tiktokenCounter) count(text string) int {
	if c.enc == nil {
		// Fallback heuristic if the encoding table failed to load.
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
