package app

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"intellixdoc/internal/blobstore"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/model"
	"intellixdoc/internal/repository"
	"intellixdoc/internal/vectorindex"
	"intellixdoc/internal/worker"
)

type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, limit int) ([]model.Document, error)
	PendingIDs(ctx context.Context) ([]string, error)
	MarkQueued(ctx context.Context, id string, from ...model.DocumentStatus) error
	MarkFailed(ctx context.Context, id string, reason string) error
	Delete(ctx context.Context, id string) error
}

// deleteLeaseTTL bounds how long a delete may hold the document lease.
const deleteLeaseTTL = time.Minute

type DocumentService struct {
	docs      DocumentRepository
	blobs     blobstore.Store
	index     vectorindex.Index
	scheduler worker.Scheduler
	locker    worker.Locker
	maxBytes  int64
}

// NewDocumentService wires the document operations. locker must be the one
// the ingestion dispatcher leases documents with; nil means a process-local
// locker.
func NewDocumentService(
	docs DocumentRepository,
	blobs blobstore.Store,
	index vectorindex.Index,
	scheduler worker.Scheduler,
	locker worker.Locker,
	maxBytes int64,
) *DocumentService {
	if locker == nil {
		locker = worker.NewMemoryLocker()
	}
	return &DocumentService{
		docs:      docs,
		blobs:     blobs,
		index:     index,
		scheduler: scheduler,
		locker:    locker,
		maxBytes:  maxBytes,
	}
}

type UploadInput struct {
	Filename string
	Content  io.Reader
}

// Upload stores a PDF and schedules its ingestion. The returned document
// is queued; ingestion outcome is read later through Get.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	name := filepath.Base(strings.TrimSpace(input.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) || input.Content == nil {
		return nil, ErrInvalidInput
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, ErrUnsupportedFile
	}

	reader := input.Content
	if s.maxBytes > 0 {
		reader = io.LimitReader(reader, s.maxBytes+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if s.maxBytes > 0 && int64(buf.Len()) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	data := buf.Bytes()
	sum := blake2b.Sum256(data)

	doc := &model.Document{
		ID:          uuid.NewString(),
		Filename:    name,
		ContentHash: hex.EncodeToString(sum[:]),
		FileSize:    int64(len(data)),
		Status:      model.DocumentQueued,
	}
	doc.StorageKey = blobstore.DocumentKey(doc.ID)

	if err := s.blobs.Put(ctx, doc.StorageKey, data); err != nil {
		return nil, fmt.Errorf("store upload failed: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.StorageKey); derr != nil {
			logger.Warn("document: cleanup of blob %s failed: %v", doc.StorageKey, derr)
		}
		return nil, err
	}

	if err := s.enqueue(ctx, doc.ID); err != nil {
		return nil, err
	}
	logger.Info("document: %s (%s, %d bytes) queued for ingestion", doc.ID, doc.Filename, doc.FileSize)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, limit int) ([]model.Document, error) {
	return s.docs.List(ctx, limit)
}

// Delete removes the document's vectors first so a partially failed delete
// never leaves searchable records without metadata. It takes the ingestion
// lease, so a document that is being ingested right now is reported busy.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	release, ok, err := s.locker.Acquire(ctx, worker.LeaseKey(doc.ID), deleteLeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease for %s: %w", doc.ID, err)
	}
	if !ok {
		return ErrDocumentBusy
	}
	defer release()

	if err := s.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document vectors failed: %w", err)
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		logger.Warn("document: delete blob %s failed: %v", doc.StorageKey, err)
	}
	logger.Info("document: %s deleted", doc.ID)
	return nil
}

// Reingest queues a completed or failed document for another run.
func (s *DocumentService) Reingest(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.docs.MarkQueued(ctx, doc.ID, model.DocumentCompleted, model.DocumentFailed); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, ErrDocumentBusy
		}
		return nil, err
	}
	if err := s.enqueue(ctx, doc.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, doc.ID)
}

// ResumePending enqueues documents a previous process left queued or
// processing.
func (s *DocumentService) ResumePending(ctx context.Context) (int, error) {
	ids, err := s.docs.PendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.scheduler.Enqueue(ctx, id); err != nil {
			return i, fmt.Errorf("resume document %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		logger.Info("document: resumed %d pending documents", len(ids))
	}
	return len(ids), nil
}

func (s *DocumentService) enqueue(ctx context.Context, id string) error {
	err := s.scheduler.Enqueue(ctx, id)
	if err == nil {
		return nil
	}
	reason := "Could not schedule ingestion: " + err.Error()
	if ferr := s.docs.MarkFailed(context.WithoutCancel(ctx), id, reason); ferr != nil {
		logger.Error("document: %s enqueue failed (%v) and status update failed: %v", id, err, ferr)
	}
	return fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
}
