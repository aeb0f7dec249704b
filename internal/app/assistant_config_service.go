package app

import (
	"fmt"
	"strings"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/repository"
)

// AssistantConfigService exposes the single-row assistant tuning to admins.
// Changes apply to the next request; materials ingested with an older chunk
// configuration keep their chunks until reindexed.
type AssistantConfigService struct {
	repo *repository.AssistantConfigRepository
}

func NewAssistantConfigService(repo *repository.AssistantConfigRepository) *AssistantConfigService {
	return &AssistantConfigService{repo: repo}
}

// Get returns the stored configuration, or the defaults when nothing has
// been saved yet.
func (s *AssistantConfigService) Get() (*model.AssistantConfig, error) {
	cfg, err := s.repo.Get()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		def := model.DefaultAssistantConfig()
		return &def, nil
	}
	return cfg, nil
}

// Update validates and saves the full configuration, recording which admin
// changed it.
func (s *AssistantConfigService) Update(adminID uint, cfg model.AssistantConfig) (*model.AssistantConfig, error) {
	if err := validateAssistantConfig(cfg); err != nil {
		return nil, err
	}
	cfg.ID = 1
	cfg.UpdatedBy = adminID
	if err := s.repo.Save(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateAssistantConfig(cfg model.AssistantConfig) error {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return fmt.Errorf("%w: system_prompt is required", ErrInvalidInput)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidInput)
	}
	if cfg.ChunkSize < 64 || cfg.ChunkSize > 4096 {
		return fmt.Errorf("%w: chunk_size must be between 64 and 4096", ErrInvalidInput)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be smaller than chunk_size", ErrInvalidInput)
	}
	if cfg.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1", ErrInvalidInput)
	}
	if cfg.FetchK < cfg.TopK || cfg.FetchK > 100 {
		return fmt.Errorf("%w: fetch_k must be between top_k and 100", ErrInvalidInput)
	}
	if cfg.MMRLambda < 0 || cfg.MMRLambda > 1 {
		return fmt.Errorf("%w: mmr_lambda must be between 0 and 1", ErrInvalidInput)
	}
	if cfg.LevelBoost < 0 || cfg.LevelBoost > 1 {
		return fmt.Errorf("%w: level_boost must be between 0 and 1", ErrInvalidInput)
	}
	if cfg.TopicBoost < 0 || cfg.TopicBoost > 1 {
		return fmt.Errorf("%w: topic_boost must be between 0 and 1", ErrInvalidInput)
	}
	if cfg.MaxPerMaterial < 1 {
		return fmt.Errorf("%w: max_per_material must be at least 1", ErrInvalidInput)
	}
	return nil
}
