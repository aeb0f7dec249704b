package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dnaforca/backend/internal/pkg/jwtutil"
	"github.com/dnaforca/backend/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
	ContextRoleKey     = "role"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRoles allows the request through only when the token role is one of
// the given roles. It must run after AuthJWT.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleAny, exists := c.Get(ContextRoleKey)
		role, ok := roleAny.(string)
		if !exists || !ok || role == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing role in token")
			c.Abort()
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Error(c, 403, response.CodeForbidden, "insufficient role")
		c.Abort()
	}
}
