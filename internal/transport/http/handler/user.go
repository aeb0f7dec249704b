package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

type UserHandler struct {
	userService *app.UserService
}

func NewUserHandler(userService *app.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) List(c *gin.Context) {
	filter := app.UserFilter{Role: c.Query("role")}
	if raw := c.Query("approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid approved filter")
			return
		}
		filter.Approved = &approved
	}

	users, err := h.userService.List(filter)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list users failed")
		}
		return
	}

	response.OK(c, users)
}

func (h *UserHandler) Approve(c *gin.Context) {
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}

	user, err := h.userService.Approve(userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "approve user failed")
		}
		return
	}

	response.OK(c, user)
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *UserHandler) ChangeRole(c *gin.Context) {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.userService.ChangeRole(actorID, userID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrSelfChange):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "change role failed")
		}
		return
	}

	response.OK(c, user)
}

func (h *UserHandler) Delete(c *gin.Context) {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.userService.Delete(actorID, userID); err != nil {
		switch {
		case errors.Is(err, app.ErrSelfChange):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete user failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_user_id": userID})
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid id")
		return 0, false
	}
	return uint(id64), true
}
