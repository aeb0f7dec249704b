package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
)

type ChatMessageRepository struct {
	db *gorm.DB
}

func NewChatMessageRepository(db *gorm.DB) *ChatMessageRepository {
	return &ChatMessageRepository{db: db}
}

func (r *ChatMessageRepository) Create(message *model.ChatMessage) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create chat message failed: %w", err)
	}
	return nil
}

func (r *ChatMessageRepository) ListBySessionID(sessionID uint, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var messages []model.ChatMessage
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentBySessionID returns the newest limit messages in chronological
// order, used to build conversation context for the LLM.
func (r *ChatMessageRepository) ListRecentBySessionID(sessionID uint, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	var messages []model.ChatMessage
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent chat messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *ChatMessageRepository) DeleteBySessionID(sessionID uint) error {
	if err := r.db.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
		return fmt.Errorf("delete chat messages failed: %w", err)
	}
	return nil
}
