package model

import "time"

type DocumentStatus string

const (
	DocumentQueued     DocumentStatus = "queued"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// ProcessableStatuses are the states an ingestion run may start from.
var ProcessableStatuses = []DocumentStatus{DocumentQueued, DocumentFailed, DocumentProcessing}

// Document is an uploaded PDF and its ingestion state. Status only moves
// through the ingestion status reporter.
type Document struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Filename    string         `gorm:"size:255;not null" json:"filename"`
	StorageKey  string         `gorm:"size:512;not null" json:"-"`
	ContentHash string         `gorm:"size:64;index" json:"content_hash"`
	FileSize    int64          `gorm:"not null" json:"file_size"`
	Status      DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	PageCount   int            `gorm:"not null;default:0" json:"page_count"`
	ChunkCount  int            `gorm:"not null;default:0" json:"chunk_count"`
	ErrorDetail *string        `gorm:"type:text" json:"error_detail,omitempty"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time      `json:"upload_date"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (d *Document) Searchable() bool {
	return d != nil && d.Status == DocumentCompleted
}
