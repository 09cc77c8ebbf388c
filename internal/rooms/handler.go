package rooms

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/pkg/response"
)

// Handler handles room endpoints.
type Handler struct {
	mgr    *Manager
	logger *zap.Logger
}

// NewHandler creates a room handler.
func NewHandler(mgr *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{mgr: mgr, logger: logger}
}

// Token handles GET /sessions/:id/room-token.
func (h *Handler) Token(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	tok, err := h.mgr.Token(c.Request.Context(), middleware.Actor(c), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
			return
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Error("room token failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
		response.Error(c, err)
		return
	}
	response.OK(c, tok)
}
