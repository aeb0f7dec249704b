package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

type AssistantHandler struct {
	configService *app.AssistantConfigService
}

func NewAssistantHandler(configService *app.AssistantConfigService) *AssistantHandler {
	return &AssistantHandler{configService: configService}
}

func (h *AssistantHandler) GetConfig(c *gin.Context) {
	cfg, err := h.configService.Get()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load assistant config failed")
		return
	}
	response.OK(c, cfg)
}

// AssistantConfigRequest carries the tuning fields; absent fields keep their
// stored values, so a partial update does not reset the rest.
type AssistantConfigRequest struct {
	SystemPrompt   *string  `json:"system_prompt"`
	Model          *string  `json:"model"`
	Temperature    *float64 `json:"temperature"`
	ChunkSize      *int     `json:"chunk_size"`
	ChunkOverlap   *int     `json:"chunk_overlap"`
	TopK           *int     `json:"top_k"`
	FetchK         *int     `json:"fetch_k"`
	MMRLambda      *float64 `json:"mmr_lambda"`
	LevelBoost     *float64 `json:"level_boost"`
	TopicBoost     *float64 `json:"topic_boost"`
	MaxPerMaterial *int     `json:"max_per_material"`
}

func (h *AssistantHandler) UpdateConfig(c *gin.Context) {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AssistantConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	current, err := h.configService.Get()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load assistant config failed")
		return
	}

	cfg := *current
	if req.SystemPrompt != nil {
		cfg.SystemPrompt = *req.SystemPrompt
	}
	if req.Model != nil {
		cfg.Model = *req.Model
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.ChunkSize != nil {
		cfg.ChunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		cfg.ChunkOverlap = *req.ChunkOverlap
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	if req.FetchK != nil {
		cfg.FetchK = *req.FetchK
	}
	if req.MMRLambda != nil {
		cfg.MMRLambda = *req.MMRLambda
	}
	if req.LevelBoost != nil {
		cfg.LevelBoost = *req.LevelBoost
	}
	if req.TopicBoost != nil {
		cfg.TopicBoost = *req.TopicBoost
	}
	if req.MaxPerMaterial != nil {
		cfg.MaxPerMaterial = *req.MaxPerMaterial
	}

	updated, err := h.configService.Update(adminID, cfg)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update assistant config failed")
		}
		return
	}

	response.OK(c, updated)
}
