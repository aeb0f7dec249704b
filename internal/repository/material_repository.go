package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
)

// MaterialFilter narrows List. Zero values mean "no filter".
type MaterialFilter struct {
	Topic      string
	Level      string
	Kind       string
	Status     string
	Tag        string
	UploaderID uint
}

type MaterialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

func (r *MaterialRepository) Create(material *model.Material) error {
	if err := r.db.Create(material).Error; err != nil {
		return fmt.Errorf("create material failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) GetByID(id uint) (*model.Material, error) {
	var material model.Material
	if err := r.db.First(&material, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query material by id failed: %w", err)
	}
	return &material, nil
}

func (r *MaterialRepository) List(filter MaterialFilter) ([]model.Material, error) {
	query := r.db.Model(&model.Material{})
	if filter.Topic != "" {
		query = query.Where("topic = ?", filter.Topic)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Tag != "" {
		query = query.Where("tags LIKE ?", "%"+filter.Tag+"%")
	}
	if filter.UploaderID != 0 {
		query = query.Where("uploader_id = ?", filter.UploaderID)
	}

	var materials []model.Material
	if err := query.Order("created_at DESC").Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("list materials failed: %w", err)
	}
	return materials, nil
}

func (r *MaterialRepository) ListByIDs(ids []uint) ([]model.Material, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var materials []model.Material
	if err := r.db.Where("id IN ?", ids).Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("list materials by ids failed: %w", err)
	}
	return materials, nil
}

func (r *MaterialRepository) Update(material *model.Material) error {
	if err := r.db.Save(material).Error; err != nil {
		return fmt.Errorf("update material failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) MarkPending(id uint) error {
	updates := map[string]interface{}{"status": model.MaterialStatusPending, "error": ""}
	if err := r.db.Model(&model.Material{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark material pending failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) MarkProcessing(id uint) error {
	updates := map[string]interface{}{"status": model.MaterialStatusProcessing, "error": ""}
	if err := r.db.Model(&model.Material{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark material processing failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) MarkReady(id uint, chunkCount int) error {
	updates := map[string]interface{}{
		"status":      model.MaterialStatusReady,
		"chunk_count": chunkCount,
		"error":       "",
	}
	if err := r.db.Model(&model.Material{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark material ready failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) MarkFailed(id uint, reason string) error {
	updates := map[string]interface{}{"status": model.MaterialStatusFailed, "error": reason}
	if err := r.db.Model(&model.Material{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark material failed failed: %w", err)
	}
	return nil
}

func (r *MaterialRepository) Delete(id uint) error {
	if err := r.db.Delete(&model.Material{}, id).Error; err != nil {
		return fmt.Errorf("delete material failed: %w", err)
	}
	return nil
}
