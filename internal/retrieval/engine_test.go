package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellixdoc/internal/model"
	"intellixdoc/internal/repository/memstore"
	"intellixdoc/internal/vectorindex"
	"intellixdoc/internal/vectorindex/memory"
)

// tableEmbedder returns fixed vectors per text so scores are exact.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) Dimension() int { return 3 }
func (e *tableEmbedder) Model() string  { return "table" }
func (e *tableEmbedder) Close() error   { return nil }

type staleStatuses struct {
	*memstore.Documents
	override map[string]model.DocumentStatus
}

func (s staleStatuses) Statuses(ctx context.Context, ids []string) (map[string]model.DocumentStatus, error) {
	out, err := s.Documents.Statuses(ctx, ids)
	for id, st := range s.override {
		out[id] = st
	}
	return out, err
}

type setup struct {
	docs     *memstore.Documents
	index    *memory.Index
	embedder *tableEmbedder
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		docs:  memstore.NewDocuments(memstore.NewChunks()),
		index: memory.New(3),
		embedder: &tableEmbedder{vectors: map[string][]float32{
			"when are pears picked": {1, 0, 0},
			"orchard question":      {0.6, 0.8, 0},
		}},
	}
	s.addDocument(t, "ready", model.DocumentCompleted, []vectorindex.Record{
		{ID: "ready-0", PageNumber: 1, Text: "apples bloom in spring", Vector: []float32{0, 1, 0}},
		{ID: "ready-1", PageNumber: 2, Text: "pears are picked in autumn", Vector: []float32{1, 0, 0}},
	})
	s.addDocument(t, "pending", model.DocumentProcessing, []vectorindex.Record{
		{ID: "pending-0", PageNumber: 1, Text: "pears again", Vector: []float32{1, 0, 0}},
	})
	return s
}

func (s *setup) addDocument(t *testing.T, id string, status model.DocumentStatus, recs []vectorindex.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.docs.Create(ctx, &model.Document{ID: id, Filename: id + ".pdf", Status: status}))
	for i := range recs {
		recs[i].DocumentID = id
		recs[i].Filename = id + ".pdf"
		recs[i].Ordinal = i
	}
	require.NoError(t, s.index.Upsert(ctx, recs))
}

func TestRetrieveCitesPageOfBestChunk(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "when are pears picked"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)

	c := res.Citations[0]
	assert.Equal(t, "ready", c.DocumentID)
	assert.Equal(t, "ready-1", c.ChunkID)
	assert.Equal(t, "ready.pdf", c.Filename)
	assert.Equal(t, 2, c.PageNumber)
	assert.Equal(t, "pears are picked in autumn", c.ChunkText)
	assert.InDelta(t, 1.0, c.Score, 1e-6)
	assert.LessOrEqual(t, c.Score, float32(1))
}

func TestRetrieveOrdersByRelevanceAndAppliesFloor(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "orchard question"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "ready-0", res.Citations[0].ChunkID)
	assert.InDelta(t, 0.8, res.Citations[0].Score, 1e-6)
	assert.Equal(t, "ready-1", res.Citations[1].ChunkID)

	strict := NewEngine(s.docs, s.embedder, s.index, 5, 0.7)
	res, err = strict.Retrieve(context.Background(), Query{Text: "orchard question"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "ready-0", res.Citations[0].ChunkID)
}

func TestRetrieveFloorIsInclusive(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 1)

	res, err := engine.Retrieve(context.Background(), Query{Text: "when are pears picked"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "ready-1", res.Citations[0].ChunkID)
	assert.Equal(t, float32(1), res.Citations[0].Score)
}

func TestRetrieveBelowFloorIsEmpty(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "something unrelated"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestRetrieveIgnoresDocumentsThatAreNotCompleted(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "when are pears picked", DocumentIDs: []string{"pending"}})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Zero(t, s.embedder.calls, "no candidates means no embedding call")
}

func TestRetrieveDropsDocumentThatLeftCompleted(t *testing.T) {
	s := newSetup(t)
	reader := staleStatuses{Documents: s.docs, override: map[string]model.DocumentStatus{"ready": model.DocumentProcessing}}
	engine := NewEngine(reader, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "when are pears picked"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestRetrieveRespectsTopK(t *testing.T) {
	s := newSetup(t)
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "orchard question", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, res.Citations, 1)
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	docs := memstore.NewDocuments(memstore.NewChunks())
	emb := &tableEmbedder{}
	engine := NewEngine(docs, emb, memory.New(3), 5, 0.3)

	res, err := engine.Retrieve(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Zero(t, emb.calls)
}

func TestRetrieveReturnsEmbedderError(t *testing.T) {
	s := newSetup(t)
	s.embedder.err = errors.New("provider down")
	engine := NewEngine(s.docs, s.embedder, s.index, 5, 0.3)

	_, err := engine.Retrieve(context.Background(), Query{Text: "when are pears picked"})
	assert.ErrorContains(t, err, "provider down")
}
