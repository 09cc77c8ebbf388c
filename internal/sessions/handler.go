package sessions

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title           string  `json:"title" binding:"required"`
	Description     string  `json:"description"`
	ScheduledAt     string  `json:"scheduled_at" binding:"required"`
	DurationMinutes int     `json:"duration_minutes" binding:"required"`
	MaxParticipants int     `json:"max_participants" binding:"required"`
	TherapistID     *string `json:"therapist_id"` // admin only
}

// StatusRequest is the body for PATCH /sessions/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a session handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions (therapist or admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_at")
		return
	}
	in := CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
	}
	if req.TherapistID != nil {
		id, err := uuid.Parse(*req.TherapistID)
		if err != nil {
			response.BadRequest(c, "invalid therapist_id")
			return
		}
		in.TherapistID = &id
	}
	sess, err := h.svc.Create(c.Request.Context(), middleware.Actor(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sess)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// List handles GET /sessions. Query ?mine=1 limits to the caller's sessions,
// ?status= filters by status and ?upcoming=1 returns only future sessions.
func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if c.Query("mine") == "1" {
		uid := middleware.Actor(c).UserID
		f.TherapistID = &uid
	} else if t := c.Query("therapist_id"); t != "" {
		id, err := uuid.Parse(t)
		if err != nil {
			response.BadRequest(c, "invalid therapist_id")
			return
		}
		f.TherapistID = &id
	}
	if s := c.Query("status"); s != "" {
		st, err := models.ParseSessionStatus(s)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		f.Status = &st
	}
	if c.Query("upcoming") == "1" {
		now := time.Now()
		f.From = &now
	}
	f.Limit = 200
	list, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// SetStatus handles PATCH /sessions/:id/status (owning therapist or admin).
func (h *Handler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	target, err := models.ParseSessionStatus(req.Status)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.svc.SetStatus(c.Request.Context(), middleware.Actor(c), id, target)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"session": sess})
}
