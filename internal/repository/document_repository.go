package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"intellixdoc/internal/model"
)

// ErrNoRows is returned by status updates that matched no document.
var ErrNoRows = errors.New("no matching row")

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, limit int) ([]model.Document, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var docs []model.Document
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// CompletedIDs returns ids of completed documents, limited to scope when
// scope is non-nil.
func (r *DocumentRepository) CompletedIDs(ctx context.Context, scope []string) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&model.Document{}).Where("status = ?", model.DocumentCompleted)
	if scope != nil {
		if len(scope) == 0 {
			return nil, nil
		}
		q = q.Where("id IN ?", scope)
	}
	var ids []string
	if err := q.Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list completed documents failed: %w", err)
	}
	return ids, nil
}

// PendingIDs returns documents left queued or processing, oldest first.
func (r *DocumentRepository) PendingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("status IN ?", []model.DocumentStatus{model.DocumentQueued, model.DocumentProcessing}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list pending documents failed: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) Statuses(ctx context.Context, ids []string) (map[string]model.DocumentStatus, error) {
	out := make(map[string]model.DocumentStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     string
		Status model.DocumentStatus
	}
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Select("id", "status").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read document statuses failed: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.Status
	}
	return out, nil
}

// MarkProcessing starts a run. A completed document is left alone and
// ErrNoRows is returned; processing is accepted so that a crashed run can
// be picked up again.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, model.ProcessableStatuses, map[string]any{
		"status":       model.DocumentProcessing,
		"error_detail": nil,
		"attempts":     gorm.Expr("attempts + 1"),
	})
}

func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string, pageCount, chunkCount int) error {
	return r.update(ctx, id, nil, map[string]any{
		"status":       model.DocumentCompleted,
		"page_count":   pageCount,
		"chunk_count":  chunkCount,
		"error_detail": nil,
	})
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.update(ctx, id, nil, map[string]any{
		"status":       model.DocumentFailed,
		"error_detail": reason,
	})
}

// MarkQueued moves a document back to queued, but only from one of the
// allowed states. It returns ErrNoRows when the document is missing or in
// another state.
func (r *DocumentRepository) MarkQueued(ctx context.Context, id string, from ...model.DocumentStatus) error {
	return r.update(ctx, id, from, map[string]any{
		"status":       model.DocumentQueued,
		"error_detail": nil,
	})
}

func (r *DocumentRepository) update(ctx context.Context, id string, from []model.DocumentStatus, values map[string]any) error {
	q := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update document %s failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoRows
	}
	return nil
}

// Delete removes the document row and its chunk rows together.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Document{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
