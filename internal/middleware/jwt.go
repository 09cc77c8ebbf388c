package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/groupcare/backend/internal/auth"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		SetActor(c, claims.Actor())
		c.Next()
	}
}

// SetActor stores a verified identity on the request context.
func SetActor(c *gin.Context, a models.Actor) {
	c.Set(ContextUserID, a.UserID)
	c.Set(ContextUserRole, a.Role)
}

// Actor returns the identity set by JWT. Call only behind that middleware.
func Actor(c *gin.Context) models.Actor {
	id, _ := c.MustGet(ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(ContextUserRole).(models.Role)
	return models.Actor{UserID: id, Role: role}
}
