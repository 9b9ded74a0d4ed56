package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellixdoc/internal/ai"
	"intellixdoc/internal/blobstore"
	"intellixdoc/internal/chunker"
	"intellixdoc/internal/ingest"
	"intellixdoc/internal/model"
	"intellixdoc/internal/pkg/pdfextract"
	"intellixdoc/internal/pkg/pdfextract/pdftest"
	"intellixdoc/internal/repository/memstore"
	"intellixdoc/internal/vectorindex/memory"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	fail map[string]int
}

func (h *recordingHandler) Handle(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, id)
	if h.fail[id] > 0 {
		h.fail[id]--
		return ErrLeaseHeld
	}
	return nil
}

func (h *recordingHandler) Seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func TestLocalQueueRunsJobs(t *testing.T) {
	h := &recordingHandler{}
	q := NewLocalQueue(h, 2, time.Millisecond)
	q.Start(context.Background())
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}
	assert.Eventually(t, func() bool { return len(h.Seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, h.Seen())
}

func TestLocalQueueRequeuesDeferredJobs(t *testing.T) {
	h := &recordingHandler{fail: map[string]int{"a": 2}}
	q := NewLocalQueue(h, 1, time.Millisecond)
	q.Start(context.Background())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), "a"))
	assert.Eventually(t, func() bool { return len(h.Seen()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestLocalQueueRejectsAfterClose(t *testing.T) {
	q := NewLocalQueue(&recordingHandler{}, 1, time.Millisecond)
	q.Start(context.Background())
	q.Close()

	assert.ErrorIs(t, q.Enqueue(context.Background(), "a"), ErrQueueClosed)
}

func TestLocalQueueIngestsDocument(t *testing.T) {
	ctx := context.Background()
	chunks := memstore.NewChunks()
	docs := memstore.NewDocuments(chunks)
	blobs := blobstore.NewMemory()
	index := memory.New(32)

	pipeline := ingest.NewPipeline(docs, chunks, blobs, pdfextract.NewExtractor(),
		chunker.New(chunker.WithChunkSize(200), chunker.WithOverlap(40)),
		ai.NewHashEmbedder(32), index, ingest.Options{BatchSize: 4})
	q := NewLocalQueue(NewDispatcher(pipeline, NewMemoryLocker(), fastOptions()), 2, time.Millisecond)
	q.Start(ctx)
	defer q.Close()

	key := blobstore.DocumentKey("doc-1")
	require.NoError(t, blobs.Put(ctx, key, pdftest.Build("Queue workers turn uploads into searchable chunks.", "The second page mentions retries.")))
	require.NoError(t, docs.Create(ctx, &model.Document{ID: "doc-1", Filename: "q.pdf", StorageKey: key, Status: model.DocumentQueued}))
	require.NoError(t, q.Enqueue(ctx, "doc-1"))

	assert.Eventually(t, func() bool {
		d, _ := docs.GetByID(ctx, "doc-1")
		return d != nil && d.Status == model.DocumentCompleted
	}, 5*time.Second, 10*time.Millisecond)
	d, _ := docs.GetByID(ctx, "doc-1")
	assert.Equal(t, 2, d.PageCount)
	assert.Equal(t, d.ChunkCount, index.Count("doc-1"))
}
