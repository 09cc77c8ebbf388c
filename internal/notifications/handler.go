// Package notifications exposes the per-participant reminder delivery log.
package notifications

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/response"
)

// Lister loads a session's notification logs.
type Lister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.NotificationLog, error)
}

// Inspector decides whether actor may read a session's delivery log.
type Inspector interface {
	CanInspect(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (bool, error)
}

// Handler handles notification log HTTP endpoints.
type Handler struct {
	logs   Lister
	access Inspector
}

// NewHandler creates a notification log handler.
func NewHandler(logs Lister, access Inspector) *Handler {
	return &Handler{logs: logs, access: access}
}

// ListBySession handles GET /sessions/:id/notifications for the session owner or an admin.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ok, err := h.access.CanInspect(c.Request.Context(), middleware.Actor(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Forbidden(c, "not the session owner")
		return
	}
	logs, err := h.logs.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to load notification logs")
		return
	}
	if logs == nil {
		logs = []*models.NotificationLog{}
	}
	response.OK(c, logs)
}
