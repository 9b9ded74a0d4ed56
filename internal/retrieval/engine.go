// Package retrieval finds the chunks most relevant to a question among
// completed documents.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"intellixdoc/internal/ai"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/model"
	"intellixdoc/internal/pkg/vecmath"
	"intellixdoc/internal/vectorindex"
)

const (
	DefaultTopK = 5
	// DefaultRelevanceFloor is the lowest cosine score a chunk may have and
	// still be cited. The floor is inclusive: a score equal to it is kept,
	// only scores strictly below it are dropped.
	DefaultRelevanceFloor = 0.3
)

// DocumentStatusReader exposes document readiness. CompletedIDs with a nil
// scope returns every completed document.
type DocumentStatusReader interface {
	CompletedIDs(ctx context.Context, scope []string) ([]string, error)
	Statuses(ctx context.Context, ids []string) (map[string]model.DocumentStatus, error)
}

type Query struct {
	Text string
	// DocumentIDs narrows the search; empty means all completed documents.
	DocumentIDs []string
	TopK        int
}

// Result holds citations in descending relevance.
type Result struct {
	Citations []model.Citation
}

func (r Result) Empty() bool { return len(r.Citations) == 0 }

type Engine struct {
	docs     DocumentStatusReader
	embedder ai.Embedder
	index    vectorindex.Index
	topK     int
	floor    float32
}

func NewEngine(docs DocumentStatusReader, embedder ai.Embedder, index vectorindex.Index, topK int, floor float32) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if floor < 0 || floor > 1 {
		floor = DefaultRelevanceFloor
	}
	return &Engine{docs: docs, embedder: embedder, index: index, topK: topK, floor: floor}
}

func (e *Engine) Retrieve(ctx context.Context, q Query) (Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Result{}, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = e.topK
	}

	var scope []string
	if len(q.DocumentIDs) > 0 {
		scope = q.DocumentIDs
	}
	candidates, err := e.docs.CompletedIDs(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("resolve searchable documents: %w", err)
	}
	if len(candidates) == 0 {
		logger.Debug("retrieval: no completed documents in scope %v", q.DocumentIDs)
		return Result{}, nil
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}
	if err := vecmath.Check("embedding model "+e.embedder.Model(), vec, e.index.Dimension()); err != nil {
		return Result{}, err
	}

	matches, err := e.index.Search(ctx, vec, topK, &vectorindex.Filter{DocumentIDs: candidates})
	if err != nil {
		return Result{}, err
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= e.floor {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return Result{}, nil
	}

	// A document may have left completed between the candidate read and the
	// search; drop its matches.
	statuses, err := e.docs.Statuses(ctx, matchedDocuments(kept))
	if err != nil {
		return Result{}, fmt.Errorf("recheck document status: %w", err)
	}

	out := make([]model.Citation, 0, len(kept))
	for _, m := range kept {
		if statuses[m.DocumentID] != model.DocumentCompleted {
			continue
		}
		out = append(out, model.Citation{
			DocumentID: m.DocumentID,
			ChunkID:    m.ID,
			Filename:   m.Filename,
			ChunkText:  m.Text,
			PageNumber: m.PageNumber,
			Score:      vecmath.Clamp01(m.Score),
		})
	}
	return Result{Citations: out}, nil
}

func matchedDocuments(matches []vectorindex.Match) []string {
	seen := make(map[string]struct{}, len(matches))
	var ids []string
	for _, m := range matches {
		if _, ok := seen[m.DocumentID]; ok {
			continue
		}
		seen[m.DocumentID] = struct{}{}
		ids = append(ids, m.DocumentID)
	}
	return ids
}
