// Package queue is a Redis list backed job queue with retries and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueNotifications is the Redis list key for reminder fan-out jobs.
	QueueNotifications = "worker:notifications"
	// QueueExports is the Redis list key for attendance export jobs.
	QueueExports = "worker:exports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pollTimeout bounds each BLPOP so the worker notices shutdown.
	pollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSessionReminder  JobType = "session_reminder"
	JobTypeAttendanceExport JobType = "attendance_export"
)

// queueFor maps a job type to its list.
func queueFor(t JobType) string {
	if t == JobTypeAttendanceExport {
		return QueueExports
	}
	return QueueNotifications
}

// SessionReminderPayload asks the worker to notify every participant of a session.
type SessionReminderPayload struct {
	SessionID   uuid.UUID `json:"session_id"`
	Milestone   string    `json:"milestone"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// AttendanceExportPayload asks the worker to publish a completed session's roster.
type AttendanceExportPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob wraps payload in an envelope.
func NewJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{ID: uuid.New().String(), Type: t, Payload: body, CreatedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue pushes job onto its type's list.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queueFor(job.Type), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// EnqueueSessionReminder enqueues a reminder fan-out job.
func (q *Queue) EnqueueSessionReminder(ctx context.Context, payload SessionReminderPayload) error {
	job, err := NewJob(JobTypeSessionReminder, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

// EnqueueAttendanceExport enqueues an attendance export job.
func (q *Queue) EnqueueAttendanceExport(ctx context.Context, sessionID uuid.UUID) error {
	job, err := NewJob(JobTypeAttendanceExport, AttendanceExportPayload{SessionID: sessionID})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

// Dequeue blocks until a job is available on one of keys, the poll times out, or ctx is done.
// A nil job with a nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, keys ...string) (*Job, string, error) {
	if len(keys) == 0 {
		keys = []string{QueueNotifications, QueueExports}
	}
	result, err := q.client.BLPop(ctx, pollTimeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, queueFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
