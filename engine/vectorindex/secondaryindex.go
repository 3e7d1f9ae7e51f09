package vectorindex

import (
	"context"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// WriteEngineAdapter adapts a named Index collection, for one configured
// embedding generator, into the write engine's SecondaryIndex collaborator:
// save_embeddings hands it a ContentRecord plus gen_embeddings' precomputed
// vectors, keyed by generator name, and the adapter picks the one it was
// configured for. ID() folds the generator into the key so that
// registering more than one generator against the same collection yields
// distinct SecondaryIndex entries instead of one clobbering another.
type WriteEngineAdapter struct {
	collection    string
	generatorName string
	index         Index
}

func NewWriteEngineAdapter(collection, generatorName string, index Index) *WriteEngineAdapter {
	return &WriteEngineAdapter{collection: collection, generatorName: generatorName, index: index}
}

// ID returns the "<collection>:<generator>" key the write engine's step
// plan targets (domain.UpsertPlan/DeletePlan build matching step names).
func (a *WriteEngineAdapter) ID() string { return a.collection + ":" + a.generatorName }

func (a *WriteEngineAdapter) Index(ctx context.Context, contentID string, rec domain.ContentRecord, vectors map[string][]float32) error {
	vec, ok := vectors[a.generatorName]
	if !ok {
		return domain.NewError(domain.KindPermanentIO, "missing vector for generator "+a.generatorName, nil)
	}
	memRec := domain.MemoryRecord{
		ID:     contentID,
		Vector: vec,
		Tags:   rec.Tags,
		Payload: map[string]any{
			"content": string(rec.Content),
			"title":   rec.Title,
			"mime":    rec.Mime,
		},
	}
	return a.index.Upsert(ctx, a.collection, []domain.MemoryRecord{memRec})
}

func (a *WriteEngineAdapter) Remove(ctx context.Context, contentID string) error {
	return a.index.Delete(ctx, a.collection, []string{contentID})
}
