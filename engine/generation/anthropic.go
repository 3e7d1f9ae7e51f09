package generation

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/microsoft/kernel-memory/engine/domain"
	"github.com/microsoft/kernel-memory/pkg/resilience"
	"github.com/pkoukk/tiktoken-go"
)

// anthropicRateLimit caps calls to Anthropic's Messages API; tuned well
// under the lowest published per-organization rate tier so a burst of
// concurrent Ask calls degrades to queuing instead of 429s.
var anthropicRateLimit = resilience.LimiterOpts{Rate: 5, Burst: 10}

// AnthropicGenerator streams completions from the Anthropic Messages API.
type AnthropicGenerator struct {
	name      string
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int
	enc       *tiktoken.Tiktoken
	breaker   *resilience.Breaker
	limiter   *resilience.Limiter
}

func NewAnthropicGenerator(name, apiKey string, model anthropic.Model, maxTokens int) *AnthropicGenerator {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &AnthropicGenerator{
		name:      name,
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		enc:       enc,
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter:   resilience.NewLimiter(anthropicRateLimit),
	}
}

func (a *AnthropicGenerator) Name() string   { return a.name }
func (a *AnthropicGenerator) MaxTokens() int { return a.maxTokens }

func (a *AnthropicGenerator) CountTokens(text string) int {
	if a.enc == nil {
		return len(text) / 4
	}
	return len(a.enc.Encode(text, nil, nil))
}

// Generate streams answer tokens on the returned channel; the error channel
// carries at most one value and is closed once the stream ends.
func (a *AnthropicGenerator) Generate(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}
	if opts.NucleusSamping > 0 {
		params.TopP = anthropic.Float(float64(opts.NucleusSamping))
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	go func() {
		defer close(tokens)
		defer close(errs)

		err := a.limiter.CallWait(ctx, func(ctx context.Context) error {
			return a.breaker.Call(ctx, func(ctx context.Context) error {
				stream := a.client.Messages.NewStreaming(ctx, params)
				for stream.Next() {
					event := stream.Current()
					delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
					if !ok {
						continue
					}
					if text := delta.Delta.Text; text != "" {
						select {
						case tokens <- text:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
				return stream.Err()
			})
		})
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			errs <- domain.NewError(domain.KindCancelled, "generation cancelled", ctx.Err())
			return
		}
		if err == resilience.ErrCircuitOpen {
			errs <- domain.NewError(domain.KindTransientIO, "anthropic stream: circuit open", err)
			return
		}
		errs <- domain.NewError(domain.KindTransientIO, "anthropic stream", err)
	}()

	return tokens, errs
}

var _ Generator = (*AnthropicGenerator)(nil)
