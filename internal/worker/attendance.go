package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/queue"
	"github.com/groupcare/backend/pkg/storage"
)

// ObjectStore persists JSON documents.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// AttendanceRecord is one participant's outcome in the exported roster.
type AttendanceRecord struct {
	UserID uuid.UUID                `json:"user_id"`
	Status models.ParticipantStatus `json:"status"`
}

// AttendanceRoster is the document consumed by the points system.
type AttendanceRoster struct {
	SessionID    uuid.UUID          `json:"session_id"`
	TherapistID  uuid.UUID          `json:"therapist_id"`
	Title        string             `json:"title"`
	ScheduledAt  time.Time          `json:"scheduled_at"`
	EndedAt      *time.Time         `json:"ended_at"`
	Participants []AttendanceRecord `json:"participants"`
	ExportedAt   time.Time          `json:"exported_at"`
}

// ExportProcessor writes completed sessions' attendance to object storage.
type ExportProcessor struct {
	roster Roster
	store  ObjectStore
	logger *zap.Logger
	now    func() time.Time
}

// NewExportProcessor creates an attendance export processor.
func NewExportProcessor(roster Roster, store ObjectStore, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{roster: roster, store: store, logger: logger, now: time.Now}
}

// Process uploads attendance/{session_id}.json. Re-running overwrites the same object.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.AttendanceExportPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	sess, err := p.roster.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Status != models.SessionCompleted {
		p.logger.Warn("attendance export for session not completed",
			zap.String("session_id", sess.ID.String()), zap.String("status", string(sess.Status)))
		return nil
	}
	participants, err := p.roster.ListParticipants(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	doc := AttendanceRoster{
		SessionID:    sess.ID,
		TherapistID:  sess.TherapistID,
		Title:        sess.Title,
		ScheduledAt:  sess.ScheduledAt,
		EndedAt:      sess.EndedAt,
		Participants: make([]AttendanceRecord, 0, len(participants)),
		ExportedAt:   p.now().UTC(),
	}
	for _, part := range participants {
		doc.Participants = append(doc.Participants, AttendanceRecord{UserID: part.UserID, Status: part.Status})
	}
	key := storage.AttendanceKey(sess.ID.String())
	url, err := p.store.PutJSON(ctx, key, doc)
	if err != nil {
		return fmt.Errorf("upload roster: %w", err)
	}
	p.logger.Info("attendance exported", zap.String("session_id", sess.ID.String()), zap.String("url", url))
	return nil
}
