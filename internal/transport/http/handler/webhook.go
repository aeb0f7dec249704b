package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

type WebhookHandler struct {
	webhookService *app.WebhookService
}

func NewWebhookHandler(webhookService *app.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

func (h *WebhookHandler) HandleUserEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "event body too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read event body failed")
		return
	}

	if err := h.webhookService.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid webhook signature")
		return
	}

	result, err := h.webhookService.HandleEvent(body)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrUnknownEvent):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "process event failed")
		}
		return
	}

	response.OK(c, result)
}
