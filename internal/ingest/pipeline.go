// Package ingest turns one uploaded document into indexed chunks.
//
// A run moves the document from queued (or failed) to processing and then
// to completed or failed. Every run starts again from the raw bytes; there
// is no resume point inside a run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"intellixdoc/internal/ai"
	"intellixdoc/internal/blobstore"
	"intellixdoc/internal/chunker"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/model"
	"intellixdoc/internal/pkg/pdfextract"
	"intellixdoc/internal/pkg/vecmath"
	"intellixdoc/internal/repository"
	"intellixdoc/internal/vectorindex"
)

var (
	// ErrDocumentGone means the document was deleted before or during the run.
	ErrDocumentGone = errors.New("document no longer exists")
	// ErrNotPending means the document already completed, typically a
	// duplicate job delivered after the first one finished.
	ErrNotPending = errors.New("document is not waiting for ingestion")
)

var chunkNamespace = uuid.MustParse("6f1c8a52-3b0e-4f55-9d2a-8e7c1b4d9a10")

const maxReasonRunes = 1000

// DocumentStore reads documents and records their status. The Mark*
// methods are the completion and failure hooks the job scheduler relies on.
// MarkProcessing refuses to move a completed document and returns
// repository.ErrNoRows instead.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, pageCount, chunkCount int) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type ChunkStore interface {
	Replace(ctx context.Context, documentID string, chunks []model.Chunk, commit func(context.Context) error) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type TextExtractor interface {
	Extract(ctx context.Context, data []byte) ([]pdfextract.Page, error)
}

type Options struct {
	BatchSize        int
	BatchConcurrency int
	ExtractTimeout   time.Duration
	EmbedTimeout     time.Duration
}

type Result struct {
	PageCount  int
	ChunkCount int
}

type Pipeline struct {
	docs      DocumentStore
	chunks    ChunkStore
	blobs     blobstore.Store
	extractor TextExtractor
	chunker   *chunker.Chunker
	embedder  ai.Embedder
	index     vectorindex.Index
	opts      Options
}

func NewPipeline(
	docs DocumentStore,
	chunks ChunkStore,
	blobs blobstore.Store,
	extractor TextExtractor,
	ch *chunker.Chunker,
	embedder ai.Embedder,
	index vectorindex.Index,
	opts Options,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	return &Pipeline{
		docs:      docs,
		chunks:    chunks,
		blobs:     blobs,
		extractor: extractor,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		opts:      opts,
	}
}

// Retryable reports whether a failed run may succeed if repeated.
func Retryable(err error) bool {
	return vectorindex.IsUnavailable(err)
}

// Run ingests one document. On error the document has already been marked
// failed, unless the document is gone or ctx itself was cancelled.
func (p *Pipeline) Run(ctx context.Context, documentID string) (Result, error) {
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return Result{}, ErrDocumentGone
	}
	if err := p.docs.MarkProcessing(ctx, documentID); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return Result{}, p.notStartable(ctx, documentID)
		}
		return Result{}, err
	}

	started := time.Now()
	res, err := p.process(ctx, doc)
	if err != nil {
		if errors.Is(err, ErrDocumentGone) || ctx.Err() != nil {
			return Result{}, err
		}
		reason := FailureReason(err)
		if ferr := p.docs.MarkFailed(context.WithoutCancel(ctx), documentID, reason); ferr != nil {
			logger.Error("ingest: document %s failed (%s) and status update failed: %v", documentID, reason, ferr)
		}
		return Result{}, err
	}

	if err := p.docs.MarkCompleted(ctx, documentID, res.PageCount, res.ChunkCount); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			// Deleted after the recheck in process; its vectors were just written.
			p.discard(ctx, documentID)
			return Result{}, ErrDocumentGone
		}
		return Result{}, fmt.Errorf("mark document completed: %w", err)
	}
	logger.Info("ingest: document %s completed: %d pages, %d chunks in %s",
		documentID, res.PageCount, res.ChunkCount, time.Since(started).Round(time.Millisecond))
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, doc *model.Document) (Result, error) {
	data, err := p.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Result{}, &pdfextract.ExtractionError{Reason: "uploaded file is missing", Err: err}
		}
		return Result{}, fmt.Errorf("load uploaded file: %w", err)
	}

	pages, err := p.extract(ctx, data)
	if err != nil {
		return Result{}, err
	}

	pieces := p.chunker.Split(pages)
	if len(pieces) == 0 {
		return Result{}, &pdfextract.ExtractionError{Reason: "PDF has no extractable text"}
	}
	logger.Debug("ingest: document %s split into %d chunks over %d pages", doc.ID, len(pieces), len(pages))

	if p.embedder.Dimension() != p.index.Dimension() {
		return Result{}, &vecmath.DimensionMismatchError{
			Expected: p.index.Dimension(),
			Actual:   p.embedder.Dimension(),
			Source:   "embedding model " + p.embedder.Model(),
		}
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = strings.TrimSpace(piece.Text)
	}
	vectors, err := p.embedAll(ctx, texts)
	if err != nil {
		return Result{}, err
	}

	rows := make([]model.Chunk, len(pieces))
	records := make([]vectorindex.Record, len(pieces))
	for i, piece := range pieces {
		id := ChunkID(doc.ID, piece.Ordinal)
		rows[i] = model.Chunk{
			ID:          id,
			DocumentID:  doc.ID,
			Ordinal:     piece.Ordinal,
			Text:        texts[i],
			PageNumber:  piece.Page,
			StartOffset: piece.Start,
			CoreOffset:  piece.Core,
			EndOffset:   piece.End,
		}
		rows[i].SetEmbedding(vectors[i])
		records[i] = vectorindex.Record{
			ID:         id,
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			PageNumber: piece.Page,
			Ordinal:    piece.Ordinal,
			Text:       texts[i],
			Vector:     vectors[i],
		}
	}

	// Chunk rows commit only if the index swap succeeded.
	if err := p.chunks.Replace(ctx, doc.ID, rows, func(ctx context.Context) error {
		return p.index.Upsert(ctx, records)
	}); err != nil {
		return Result{}, err
	}

	current, err := p.docs.GetByID(ctx, doc.ID)
	switch {
	case err != nil:
		logger.Warn("ingest: recheck of document %s after indexing failed: %v", doc.ID, err)
	case current == nil:
		p.discard(ctx, doc.ID)
		return Result{}, ErrDocumentGone
	}

	return Result{PageCount: len(pages), ChunkCount: len(pieces)}, nil
}

// notStartable explains why MarkProcessing matched no row.
func (p *Pipeline) notStartable(ctx context.Context, documentID string) error {
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentGone
	}
	return fmt.Errorf("%w: status is %s", ErrNotPending, doc.Status)
}

func (p *Pipeline) extract(ctx context.Context, data []byte) ([]pdfextract.Page, error) {
	if p.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ExtractTimeout)
		defer cancel()
	}
	return p.extractor.Extract(ctx, data)
}

// embedAll embeds texts in batches with bounded parallelism. Every batch
// finishes before it returns; out[i] always belongs to texts[i].
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.BatchConcurrency)

	for lo := 0; lo < len(texts); lo += p.opts.BatchSize {
		hi := min(lo+p.opts.BatchSize, len(texts))
		g.Go(func() error {
			bctx := gctx
			if p.opts.EmbedTimeout > 0 {
				var cancel context.CancelFunc
				bctx, cancel = context.WithTimeout(gctx, p.opts.EmbedTimeout)
				defer cancel()
			}
			vecs, err := p.embedder.EmbedBatch(bctx, texts[lo:hi])
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("embedding batch %d-%d timed out after %s: %w", lo, hi, p.opts.EmbedTimeout, err)
				}
				return fmt.Errorf("embedding batch %d-%d: %w", lo, hi, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("embedding batch %d-%d returned %d vectors", lo, hi, len(vecs))
			}
			for i, v := range vecs {
				if err := vecmath.Check("embedding model "+p.embedder.Model(), v, p.index.Dimension()); err != nil {
					return err
				}
				out[lo+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) discard(ctx context.Context, documentID string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.index.DeleteByDocument(ctx, documentID); err != nil {
		logger.Warn("ingest: cleanup of deleted document %s in index failed: %v", documentID, err)
	}
	if err := p.chunks.DeleteByDocumentID(ctx, documentID); err != nil {
		logger.Warn("ingest: cleanup of deleted document %s chunks failed: %v", documentID, err)
	}
}

// ChunkID is stable for a document and ordinal, so re-ingesting the same
// bytes reproduces the same ids.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", documentID, ordinal))).String()
}

// FailureReason is the message stored on a failed document.
func FailureReason(err error) string {
	var (
		extErr *pdfextract.ExtractionError
		dimErr *vecmath.DimensionMismatchError
		idxErr *vectorindex.UnavailableError
	)
	var reason string
	switch {
	case errors.As(err, &extErr):
		reason = "Could not extract text: " + extErr.Reason
	case errors.As(err, &dimErr):
		reason = fmt.Sprintf("Embedding model produces %d-dimensional vectors but the index expects %d", dimErr.Actual, dimErr.Expected)
	case errors.As(err, &idxErr):
		reason = "Vector index unavailable: " + idxErr.Err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		reason = "Timed out: " + err.Error()
	default:
		reason = err.Error()
	}
	if utf8.RuneCountInString(reason) > maxReasonRunes {
		reason = string([]rune(reason)[:maxReasonRunes])
	}
	return reason
}
