package sweep

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/groupcare/backend/pkg/response"
)

// Intervals are the trigger cadences; each run gets its interval as a deadline.
type Intervals struct {
	Status    time.Duration
	Reminders time.Duration
}

// Deadline returns the run deadline for kind.
func (iv Intervals) Deadline(kind string) time.Duration {
	if kind == KindReminders {
		if iv.Reminders > 0 {
			return iv.Reminders
		}
		return 15 * time.Minute
	}
	if iv.Status > 0 {
		return iv.Status
	}
	return 5 * time.Minute
}

// Handler exposes sweeps to an external periodic trigger.
type Handler struct {
	scheduler *Scheduler
	intervals Intervals
	now       func() time.Time
}

// NewHandler creates a sweep handler.
func NewHandler(scheduler *Scheduler, intervals Intervals) *Handler {
	return &Handler{scheduler: scheduler, intervals: intervals, now: time.Now}
}

// Run handles POST /internal/sweep/:kind. Per-session failures are in the summary, not the status code.
func (h *Handler) Run(c *gin.Context) {
	kind := c.Param("kind")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.intervals.Deadline(kind))
	defer cancel()
	sum, ok := h.scheduler.Run(ctx, kind, h.now().UTC())
	if !ok {
		response.NotFound(c, "unknown sweep kind")
		return
	}
	response.OK(c, sum)
}
