package model

import (
	"time"
	"unicode/utf8"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	citationPreviewRunes = 200
)

type Message struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	ChatID    uint       `gorm:"not null;index" json:"chat_id"`
	Role      string     `gorm:"size:16;not null" json:"role"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	Citations []Citation `gorm:"type:json;serializer:json" json:"citations"`
	Fallback  bool       `gorm:"not null;default:false" json:"fallback"`
	CreatedAt time.Time  `json:"created_at"`
}

// Citation points an answer at the chunk it was grounded on. Score is the
// similarity in [0, 1].
type Citation struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Filename   string  `json:"filename"`
	ChunkText  string  `json:"chunk_content"`
	PageNumber int     `json:"page_number"`
	Score      float32 `json:"relevance_score"`
}

// Preview returns a copy with the chunk text cut down for storage on a message.
func (c Citation) Preview() Citation {
	if utf8.RuneCountInString(c.ChunkText) > citationPreviewRunes {
		c.ChunkText = string([]rune(c.ChunkText)[:citationPreviewRunes]) + "..."
	}
	return c
}
