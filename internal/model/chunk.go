package model

import (
	"encoding/json"
	"time"
)

// Chunk is one indexed segment of a document. Offsets are rune offsets into
// the document's extracted text; [CoreOffset, EndOffset) is the part not
// shared with the previous chunk.
type Chunk struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DocumentID  string    `gorm:"size:36;not null;index:idx_chunk_doc_ordinal,priority:1" json:"document_id"`
	Ordinal     int       `gorm:"not null;index:idx_chunk_doc_ordinal,priority:2" json:"ordinal"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	PageNumber  int       `gorm:"not null" json:"page_number"`
	StartOffset int       `gorm:"not null" json:"start_offset"`
	CoreOffset  int       `gorm:"not null" json:"core_offset"`
	EndOffset   int       `gorm:"not null" json:"end_offset"`
	Embedding   string    `gorm:"type:longtext" json:"-"` // JSON array of float32
	CreatedAt   time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
