package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

type SendMessageRequest struct {
	SessionID   uint   `json:"session_id" binding:"required,gt=0"`
	Content     string `json:"content" binding:"required"`
	Topic       string `json:"topic"`
	Level       string `json:"level"`
	MaterialIDs []uint `json:"material_ids"`
}

type LearningPathRequest struct {
	Goal     string `json:"goal" binding:"required"`
	LevelCap string `json:"level_cap"`
	MaxSteps int    `json:"max_steps" binding:"min=0,max=50"`
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(userID, req.Title)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.chatService.ListSessions(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}

	response.OK(c, sessions)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	sessionID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), app.SendMessageInput{
		UserID:      userID,
		SessionID:   req.SessionID,
		Content:     req.Content,
		Topic:       req.Topic,
		Level:       req.Level,
		MaterialIDs: req.MaterialIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrMessageEnqueue):
			response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	result, err := h.chatService.StreamMessage(c.Request.Context(), app.SendMessageInput{
		UserID:      userID,
		SessionID:   req.SessionID,
		Content:     req.Content,
		Topic:       req.Topic,
		Level:       req.Level,
		MaterialIDs: req.MaterialIDs,
	}, func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if _, writeErr := c.Writer.Write([]byte(fmt.Sprintf("event: error\ndata: %s\n\n", sanitizeSSE(err.Error())))); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if payload, marshalErr := json.Marshal(result.Sources); marshalErr == nil {
		if _, writeErr := c.Writer.Write([]byte("event: sources\ndata: " + string(payload) + "\n\n")); writeErr == nil {
			flusher.Flush()
		}
	}
	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(result.Answer) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

// historyMessage is a ChatMessage with its sources decoded for the client.
type historyMessage struct {
	ID        uint           `json:"id"`
	SessionID uint           `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Sources   []model.Source `json:"sources,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID64, err := strconv.ParseUint(c.Query("session_id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), userID, uint(sessionID64), limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	out := make([]historyMessage, len(history))
	for i, msg := range history {
		out[i] = historyMessage{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
		if sources, decodeErr := msg.SourceList(); decodeErr == nil {
			out[i].Sources = sources
		}
	}
	response.OK(c, out)
}

func (h *ChatHandler) LearningPath(c *gin.Context) {
	var req LearningPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	steps, err := h.chatService.LearningPath(c.Request.Context(), app.LearningPathInput{
		Goal:     req.Goal,
		LevelCap: req.LevelCap,
		MaxSteps: req.MaxSteps,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "build learning path failed")
		}
		return
	}

	response.OK(c, gin.H{"goal": req.Goal, "steps": steps})
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
