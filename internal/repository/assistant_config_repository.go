package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
)

type AssistantConfigRepository struct {
	db *gorm.DB
}

func NewAssistantConfigRepository(db *gorm.DB) *AssistantConfigRepository {
	return &AssistantConfigRepository{db: db}
}

// Get returns the single config row, or nil when none has been saved yet.
func (r *AssistantConfigRepository) Get() (*model.AssistantConfig, error) {
	var cfg model.AssistantConfig
	if err := r.db.First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query assistant config failed: %w", err)
	}
	return &cfg, nil
}

// Save upserts the single config row.
func (r *AssistantConfigRepository) Save(cfg *model.AssistantConfig) error {
	cfg.ID = 1
	if err := r.db.Save(cfg).Error; err != nil {
		return fmt.Errorf("save assistant config failed: %w", err)
	}
	return nil
}
