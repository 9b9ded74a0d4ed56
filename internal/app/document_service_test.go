package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellixdoc/internal/blobstore"
	"intellixdoc/internal/model"
	"intellixdoc/internal/repository/memstore"
	"intellixdoc/internal/vectorindex"
	"intellixdoc/internal/vectorindex/memory"
	"intellixdoc/internal/worker"
)

type fakeScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *fakeScheduler) Enqueue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	return nil
}

type docFixture struct {
	docs      *memstore.Documents
	blobs     *blobstore.Memory
	index     *memory.Index
	scheduler *fakeScheduler
	locker    *worker.MemoryLocker
	svc       *DocumentService
}

func newDocFixture(maxBytes int64) *docFixture {
	f := &docFixture{
		docs:      memstore.NewDocuments(memstore.NewChunks()),
		blobs:     blobstore.NewMemory(),
		index:     memory.New(3),
		scheduler: &fakeScheduler{},
		locker:    worker.NewMemoryLocker(),
	}
	f.svc = NewDocumentService(f.docs, f.blobs, f.index, f.scheduler, f.locker, maxBytes)
	return f
}

func TestUploadStoresAndQueues(t *testing.T) {
	f := newDocFixture(1 << 20)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, UploadInput{Filename: "../reports/Annual.PDF", Content: strings.NewReader("%PDF-1.4 body")})
	require.NoError(t, err)

	assert.Equal(t, "Annual.PDF", doc.Filename)
	assert.Equal(t, model.DocumentQueued, doc.Status)
	assert.Equal(t, int64(13), doc.FileSize)
	assert.Len(t, doc.ContentHash, 64)
	assert.Equal(t, []string{doc.ID}, f.scheduler.ids)

	data, err := f.blobs.Get(ctx, blobstore.DocumentKey(doc.ID))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	stored, err := f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentQueued, stored.Status)
}

func TestUploadRejectsNonPDFAndOversized(t *testing.T) {
	f := newDocFixture(8)

	_, err := f.svc.Upload(context.Background(), UploadInput{Filename: "notes.txt", Content: strings.NewReader("hi")})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = f.svc.Upload(context.Background(), UploadInput{Filename: "big.pdf", Content: bytes.NewReader(make([]byte, 9))})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = f.svc.Upload(context.Background(), UploadInput{Filename: "  ", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, f.scheduler.ids)
	docs, _ := f.docs.List(context.Background(), 0)
	assert.Empty(t, docs)
}

func TestUploadMarksFailedWhenEnqueueFails(t *testing.T) {
	f := newDocFixture(1 << 20)
	f.scheduler.err = errors.New("broker unreachable")

	_, err := f.svc.Upload(context.Background(), UploadInput{Filename: "a.pdf", Content: strings.NewReader("%PDF-")})
	require.ErrorIs(t, err, ErrEnqueueFailed)

	docs, _ := f.docs.List(context.Background(), 0)
	require.Len(t, docs, 1)
	assert.Equal(t, model.DocumentFailed, docs[0].Status)
	require.NotNil(t, docs[0].ErrorDetail)
	assert.Contains(t, *docs[0].ErrorDetail, "broker unreachable")
}

func TestDeleteRemovesVectorsMetadataAndBlob(t *testing.T) {
	f := newDocFixture(1 << 20)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, UploadInput{Filename: "a.pdf", Content: strings.NewReader("%PDF-")})
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, []vectorindex.Record{{ID: "c1", DocumentID: doc.ID, Vector: []float32{1, 0, 0}}}))

	require.NoError(t, f.svc.Delete(ctx, doc.ID))

	assert.Zero(t, f.index.Count(doc.ID))
	_, err = f.svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.blobs.Get(ctx, doc.StorageKey)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, doc.ID), ErrNotFound)
}

func TestDeleteRefusedWhileLeaseHeld(t *testing.T) {
	f := newDocFixture(1 << 20)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, UploadInput{Filename: "a.pdf", Content: strings.NewReader("%PDF-")})
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, []vectorindex.Record{{ID: "c1", DocumentID: doc.ID, Vector: []float32{1, 0, 0}}}))

	release, ok, err := f.locker.Acquire(ctx, worker.LeaseKey(doc.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, f.svc.Delete(ctx, doc.ID), ErrDocumentBusy)
	assert.Equal(t, 1, f.index.Count(doc.ID))
	_, err = f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)

	release()
	require.NoError(t, f.svc.Delete(ctx, doc.ID))
	assert.Zero(t, f.index.Count(doc.ID))

	// the delete gave the lease back
	_, ok, err = f.locker.Acquire(ctx, worker.LeaseKey(doc.ID), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReingestOnlyFromTerminalStates(t *testing.T) {
	f := newDocFixture(1 << 20)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, UploadInput{Filename: "a.pdf", Content: strings.NewReader("%PDF-")})
	require.NoError(t, err)

	_, err = f.svc.Reingest(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentBusy)

	require.NoError(t, f.docs.MarkFailed(ctx, doc.ID, "boom"))
	again, err := f.svc.Reingest(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentQueued, again.Status)
	assert.Nil(t, again.ErrorDetail)
	assert.Equal(t, []string{doc.ID, doc.ID}, f.scheduler.ids)

	_, err = f.svc.Reingest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResumePending(t *testing.T) {
	f := newDocFixture(1 << 20)
	ctx := context.Background()
	require.NoError(t, f.docs.Create(ctx, &model.Document{ID: "q", Status: model.DocumentQueued}))
	require.NoError(t, f.docs.Create(ctx, &model.Document{ID: "done", Status: model.DocumentCompleted}))

	n, err := f.svc.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"q"}, f.scheduler.ids)
}
