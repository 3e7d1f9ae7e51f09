package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/microsoft/kernel-memory/engine/domain"
)

// LocalFileIndex is the LocalFile driver: a brute-force, in-memory
// cosine k-NN index used for local development and tests.
type LocalFileIndex struct {
	mu          sync.Mutex
	collections map[string]map[string]domain.MemoryRecord
}

func NewLocalFileIndex() *LocalFileIndex {
	return &LocalFileIndex{collections: make(map[string]map[string]domain.MemoryRecord)}
}

func (l *LocalFileIndex) CreateIndex(_ context.Context, name string, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.collections[name]; !ok {
		l.collections[name] = make(map[string]domain.MemoryRecord)
	}
	return nil
}

func (l *LocalFileIndex) DeleteIndex(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if domain.IsReservedIndexName(name) {
		return nil
	}
	delete(l.collections, name)
	return nil
}

func (l *LocalFileIndex) ListIndexes(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.collections))
	for name := range l.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (l *LocalFileIndex) Upsert(_ context.Context, name string, records []domain.MemoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	coll, ok := l.collections[name]
	if !ok {
		coll = make(map[string]domain.MemoryRecord)
		l.collections[name] = coll
	}
	for _, r := range records {
		coll[r.ID] = r
	}
	return nil
}

func (l *LocalFileIndex) Delete(_ context.Context, name string, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	coll, ok := l.collections[name]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (l *LocalFileIndex) GetSimilar(_ context.Context, name string, embedding []float32, filters []Filter, minRelevance float32, limit int) ([]SearchResult, error) {
	l.mu.Lock()
	coll := l.collections[name]
	records := make([]domain.MemoryRecord, 0, len(coll))
	for _, r := range coll {
		records = append(records, r)
	}
	l.mu.Unlock()

	out := make([]SearchResult, 0, len(records))
	for _, r := range records {
		if !MatchesFilters(r, filters) {
			continue
		}
		score := CosineSimilarity(embedding, r.Vector)
		if score < minRelevance {
			continue
		}
		if score < 0 {
			score = 0
		}
		out = append(out, SearchResult{Record: r, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *LocalFileIndex) GetList(_ context.Context, name string, filters []Filter, limit int) ([]domain.MemoryRecord, error) {
	l.mu.Lock()
	coll := l.collections[name]
	records := make([]domain.MemoryRecord, 0, len(coll))
	for _, r := range coll {
		records = append(records, r)
	}
	l.mu.Unlock()

	out := make([]domain.MemoryRecord, 0, len(records))
	for _, r := range records {
		if MatchesFilters(r, filters) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Index = (*LocalFileIndex)(nil)
