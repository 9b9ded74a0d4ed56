package model

import "time"

const DefaultChatTitle = "New Chat"

// Chat groups messages. A non-nil DocumentID scopes retrieval to that document.
type Chat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Title      string    `gorm:"size:128;not null" json:"title"`
	DocumentID *string   `gorm:"size:36;index" json:"document_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
