package embedding

import (
	"context"

	"github.com/microsoft/kernel-memory/pkg/fn"
	"github.com/microsoft/kernel-memory/pkg/resilience"
)

type embedResult struct {
	name string
	vec  []float32
	err  error
}

// Registry fans a text out to every registered Generator, matching
// gen_embeddings' "multiple may be registered" requirement. Each
// generator call runs behind its own circuit breaker ("external
// network collaborator" wrapping requirement), and the fan-out itself is
// bounded-concurrency via pkg/fn.ParMap.
type Registry struct {
	generators []Generator
	breakers   map[string]*resilience.Breaker
	workers    int
}

func NewRegistry(generators ...Generator) *Registry {
	breakers := make(map[string]*resilience.Breaker, len(generators))
	for _, g := range generators {
		breakers[g.Name()] = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Registry{generators: generators, breakers: breakers, workers: 4}
}

func (r *Registry) Generators() []Generator { return r.generators }

// EmbedAll calls every registered generator for text, returning one vector
// per generator keyed by generator name. A single generator's failure does
// not abort the others' results; callers decide how to treat partial sets.
func (r *Registry) EmbedAll(ctx context.Context, text string) (map[string][]float32, map[string]error) {
	results := fn.ParMap(r.generators, r.workers, func(g Generator) embedResult {
		var vec []float32
		breaker := r.breakers[g.Name()]
		err := breaker.Call(ctx, func(ctx context.Context) error {
			v, err := g.Embed(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
		return embedResult{name: g.Name(), vec: vec, err: err}
	})

	vectors := make(map[string][]float32, len(results))
	errs := make(map[string]error)
	for _, res := range results {
		if res.err != nil {
			errs[res.name] = res.err
			continue
		}
		vectors[res.name] = res.vec
	}
	return vectors, errs
}
