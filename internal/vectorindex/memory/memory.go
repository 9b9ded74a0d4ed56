// Package memory is an in-process vector index. Each document's records
// live in an immutable slice that Upsert swaps under the write lock.
package memory

import (
	"context"
	"sort"
	"sync"

	"intellixdoc/internal/pkg/vecmath"
	"intellixdoc/internal/vectorindex"
)

type entry struct {
	rec vectorindex.Record
	seq uint64
}

type Index struct {
	mu   sync.RWMutex
	dim  int
	docs map[string][]entry
	seq  uint64
}

var _ vectorindex.Index = (*Index)(nil)

func New(dimension int) *Index {
	return &Index{dim: dimension, docs: make(map[string][]entry)}
}

func (ix *Index) Dimension() int { return ix.dim }

func (ix *Index) Upsert(_ context.Context, records []vectorindex.Record) error {
	order, groups, err := vectorindex.Group(records, ix.dim)
	if err != nil {
		return err
	}

	// Build replacement sets before taking the lock; vectors are copied so
	// callers may reuse their slices.
	fresh := make(map[string][]entry, len(groups))
	for docID, recs := range groups {
		set := make([]entry, len(recs))
		for i, r := range recs {
			r.Vector = append([]float32(nil), r.Vector...)
			set[i] = entry{rec: r}
		}
		fresh[docID] = set
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, docID := range order {
		set := fresh[docID]
		for i := range set {
			ix.seq++
			set[i].seq = ix.seq
		}
		ix.docs[docID] = set
	}
	return nil
}

func (ix *Index) DeleteByDocument(_ context.Context, documentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, documentID)
	return nil
}

func (ix *Index) Search(_ context.Context, vector []float32, topK int, filter *vectorindex.Filter) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return []vectorindex.Match{}, nil
	}
	if err := vecmath.Check("search query", vector, ix.dim); err != nil {
		return nil, err
	}

	type scored struct {
		match vectorindex.Match
		seq   uint64
	}

	ix.mu.RLock()
	var candidates []scored
	for docID, set := range ix.docs {
		if !filter.Allows(docID) {
			continue
		}
		for _, e := range set {
			candidates = append(candidates, scored{
				match: vectorindex.Match{Record: e.rec, Score: vecmath.Cosine(vector, e.rec.Vector)},
				seq:   e.seq,
			})
		}
	}
	ix.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].match.Score != candidates[j].match.Score {
			return candidates[i].match.Score > candidates[j].match.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]vectorindex.Match, len(candidates))
	for i, c := range candidates {
		out[i] = c.match
	}
	return out, nil
}

// Count returns how many records a document currently has.
func (ix *Index) Count(documentID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs[documentID])
}

func (ix *Index) Ping(context.Context) error { return nil }
func (ix *Index) Close() error               { return nil }
