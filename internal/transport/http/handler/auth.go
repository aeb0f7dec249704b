package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/transport/http/middleware"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.authService.Register(app.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	// No token: the account must be approved by an admin before login.
	response.OK(c, gin.H{"user": user})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(app.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidCredential):
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
		case errors.Is(err, app.ErrNotApproved):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
		}
		return
	}

	response.OK(c, gin.H{
		"token": result.Token,
		"user":  result.User,
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current user failed")
		}
		return
	}

	response.OK(c, user)
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}

func getRoleFromContext(c *gin.Context) (string, bool) {
	roleAny, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return "", false
	}
	role, ok := roleAny.(string)
	return role, ok
}
