package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
)

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

func (r *ChatSessionRepository) Create(session *model.ChatSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

func (r *ChatSessionRepository) ListByUserID(userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *ChatSessionRepository) GetByIDAndUserID(sessionID, userID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *ChatSessionRepository) Touch(sessionID uint) error {
	if err := r.db.Model(&model.ChatSession{}).Where("id = ?", sessionID).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		return fmt.Errorf("touch chat session failed: %w", err)
	}
	return nil
}

func (r *ChatSessionRepository) DeleteByIDAndUserID(sessionID, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&model.ChatSession{}).Error; err != nil {
		return fmt.Errorf("delete chat session failed: %w", err)
	}
	return nil
}
