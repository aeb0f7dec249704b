package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

type MaterialHandler struct {
	materialService *app.MaterialService
}

func NewMaterialHandler(materialService *app.MaterialService) *MaterialHandler {
	return &MaterialHandler{materialService: materialService}
}

func (h *MaterialHandler) Upload(c *gin.Context) {
	uploaderID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}
	if fileHeader.Size > app.MaxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file exceeds the 20 MiB limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "open upload failed")
		return
	}
	defer file.Close()

	material, err := h.materialService.Upload(c.Request.Context(), app.UploadInput{
		UploaderID:  uploaderID,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Tags:        splitTags(c.PostForm("tags")),
		Topic:       c.PostForm("topic"),
		Level:       c.PostForm("level"),
		Filename:    fileHeader.Filename,
		MimeType:    fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		File:        file,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput),
			errors.Is(err, app.ErrUnsupportedKind),
			errors.Is(err, app.ErrNoExtractableText):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrFileTooLarge):
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file exceeds the 20 MiB limit")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "upload material failed")
		}
		return
	}

	response.OK(c, material)
}

func (h *MaterialHandler) List(c *gin.Context) {
	filter := repository.MaterialFilter{
		Topic:  c.Query("topic"),
		Level:  c.Query("level"),
		Kind:   c.Query("kind"),
		Status: c.Query("status"),
		Tag:    c.Query("tag"),
	}
	if raw := c.Query("uploader_id"); raw != "" {
		uploaderID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid uploader_id filter")
			return
		}
		filter.UploaderID = uint(uploaderID)
	}

	materials, err := h.materialService.List(filter)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list materials failed")
		}
		return
	}

	response.OK(c, materials)
}

func (h *MaterialHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	material, err := h.materialService.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, response.CodeMaterialNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get material failed")
		}
		return
	}

	response.OK(c, material)
}

func (h *MaterialHandler) Download(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	path, material, err := h.materialService.DownloadPath(id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, response.CodeMaterialNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "download material failed")
		}
		return
	}

	c.FileAttachment(path, material.OriginalFilename)
}

type MaterialUpdateRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	Topic       *string   `json:"topic"`
	Level       *string   `json:"level"`
}

func (h *MaterialHandler) Update(c *gin.Context) {
	actorID, actorRole, ok := actorFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req MaterialUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	material, err := h.materialService.Update(c.Request.Context(), actorID, actorRole, id, app.MaterialUpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Topic:       req.Topic,
		Level:       req.Level,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrNotOwner):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, response.CodeMaterialNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update material failed")
		}
		return
	}

	response.OK(c, material)
}

func (h *MaterialHandler) Reindex(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	material, err := h.materialService.Reindex(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, response.CodeMaterialNotFound, err.Error())
		case errors.Is(err, app.ErrIngestEnqueue):
			response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "reindex material failed")
		}
		return
	}

	response.OK(c, material)
}

func (h *MaterialHandler) Delete(c *gin.Context) {
	actorID, actorRole, ok := actorFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.materialService.Delete(c.Request.Context(), actorID, actorRole, id); err != nil {
		switch {
		case errors.Is(err, app.ErrNotOwner):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		case errors.Is(err, app.ErrMaterialNotFound):
			response.Error(c, http.StatusNotFound, response.CodeMaterialNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete material failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_material_id": id})
}

func actorFromContext(c *gin.Context) (uint, string, bool) {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return 0, "", false
	}
	role, ok := getRoleFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing role in token")
		return 0, "", false
	}
	return actorID, role, true
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if tag := strings.TrimSpace(p); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
