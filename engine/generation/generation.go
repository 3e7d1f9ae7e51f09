// Package generation defines the text generator collaborator: a
// streaming completion call plus token budgeting.
package generation

import "context"

// Options configures a single generate call.
type Options struct {
	MaxTokens      int
	Temperature    float32
	NucleusSamping float32
	StopSequences  []string
}

// Generator streams completion tokens for a prompt and budgets them against
// its own tokenizer.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error)
	CountTokens(text string) int
	MaxTokens() int
}
