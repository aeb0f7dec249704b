package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaforca/backend/internal/app"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/transport/http/middleware"
)

// decodeData unmarshals the envelope "data" field into target.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(decodeAPI(t, w).Data, target))
}

func userURL(id uint) string    { return fmt.Sprintf("/api/v1/users/%d", id) }
func approveURL(id uint) string { return userURL(id) + "/approve" }
func roleURL(id uint) string    { return userURL(id) + "/role" }

type userRouterFixture struct {
	router   *gin.Engine
	userRepo *repository.UserRepository
}

func newUserRouter(t *testing.T) userRouterFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	userRepo := repository.NewUserRepository(db)
	h := NewUserHandler(app.NewUserService(
		userRepo,
		repository.NewChatSessionRepository(db),
		repository.NewChatMessageRepository(db),
	))

	router := gin.New()
	users := router.Group("/api/v1/users",
		middleware.AuthJWT(testJWTSecret),
		middleware.RequireRoles(model.RoleAdmin),
	)
	users.GET("", h.List)
	users.POST("/:id/approve", h.Approve)
	users.PUT("/:id/role", h.ChangeRole)
	users.DELETE("/:id", h.Delete)

	return userRouterFixture{router: router, userRepo: userRepo}
}

func (f userRouterFixture) seedUser(t *testing.T, username, role string, approved bool) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@escola.br",
		PasswordHash: "hash",
		Role:         role,
		Approved:     approved,
	}
	require.NoError(t, f.userRepo.Create(user))
	return user
}

func TestUserRoutesRequireAdmin(t *testing.T) {
	f := newUserRouter(t)
	student := f.seedUser(t, "aluno", model.RoleStudent, true)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/users", nil, tokenFor(t, student))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40300, decodeAPI(t, w).Code)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserAdminFlow(t *testing.T) {
	f := newUserRouter(t)
	admin := f.seedUser(t, "admin", model.RoleAdmin, true)
	pending := f.seedUser(t, "pendente", model.RoleStudent, false)
	token := tokenFor(t, admin)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/users?approved=false", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.User
	decodeData(t, w, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "pendente", listed[0].Username)

	w = doJSON(t, f.router, http.MethodPost, approveURL(pending.ID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var approved model.User
	decodeData(t, w, &approved)
	assert.True(t, approved.Approved)

	w = doJSON(t, f.router, http.MethodPut, roleURL(pending.ID), gin.H{"role": "instructor"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	var promoted model.User
	decodeData(t, w, &promoted)
	assert.Equal(t, model.RoleInstructor, promoted.Role)

	// An admin cannot change their own role.
	w = doJSON(t, f.router, http.MethodPut, roleURL(admin.ID), gin.H{"role": "student"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, f.router, http.MethodDelete, userURL(pending.ID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted struct {
		DeletedUserID uint `json:"deleted_user_id"`
	}
	decodeData(t, w, &deleted)
	assert.Equal(t, pending.ID, deleted.DeletedUserID)

	gone, err := f.userRepo.GetByID(pending.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestUserRouteParamValidation(t *testing.T) {
	f := newUserRouter(t)
	admin := f.seedUser(t, "admin", model.RoleAdmin, true)
	token := tokenFor(t, admin)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/users/abc/approve", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40000, decodeAPI(t, w).Code)

	w = doJSON(t, f.router, http.MethodPost, "/api/v1/users/0/approve", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, f.router, http.MethodPost, approveURL(9999), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40403, decodeAPI(t, w).Code)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/users?approved=talvez", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
