package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"intellixdoc/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListByChatID(ctx context.Context, chatID uint, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var messages []model.Message
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentByChatID returns the newest n messages, oldest first.
func (r *MessageRepository) ListRecentByChatID(ctx context.Context, chatID uint, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var messages []model.Message
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id DESC").Limit(n).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.Chat{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
