package enrollment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/pkg/response"
)

// Handler handles enrollment HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an enrollment handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Enroll handles POST /sessions/:id/enroll.
func (h *Handler) Enroll(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	p, err := h.svc.Enroll(c.Request.Context(), middleware.Actor(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// Cancel handles DELETE /sessions/:id/enroll.
func (h *Handler) Cancel(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), middleware.Actor(c), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "cancelled": true})
}

// Status handles GET /sessions/:id/enrollment. The owner or an admin may pass ?user_id=.
func (h *Handler) Status(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	actor := middleware.Actor(c)
	userID := actor.UserID
	if s := c.Query("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			response.BadRequest(c, "invalid user_id")
			return
		}
		if id != actor.UserID {
			ok, err := h.svc.CanInspect(c.Request.Context(), actor, sessionID)
			if err != nil {
				response.Error(c, err)
				return
			}
			if !ok {
				response.Forbidden(c, "not the session owner")
				return
			}
		}
		userID = id
	}
	st, err := h.svc.Query(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Confirm handles PATCH /sessions/:id/participants/:userId/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	p, err := h.svc.Confirm(c.Request.Context(), middleware.Actor(c), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// ListParticipants handles GET /sessions/:id/participants (owner or admin).
func (h *Handler) ListParticipants(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.ListParticipants(c.Request.Context(), middleware.Actor(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"participants": list})
}
