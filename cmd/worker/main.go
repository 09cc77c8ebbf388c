// Package main runs the background job worker (reminder fan-out, attendance export)
// and, with SWEEP_IN_PROCESS=true, the periodic sweeps.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/groupcare/backend/config"
	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/notifications"
	"github.com/groupcare/backend/internal/notify"
	"github.com/groupcare/backend/internal/realtime"
	"github.com/groupcare/backend/internal/reminders"
	"github.com/groupcare/backend/internal/rooms"
	"github.com/groupcare/backend/internal/sessions"
	"github.com/groupcare/backend/internal/sweep"
	"github.com/groupcare/backend/internal/worker"
	"github.com/groupcare/backend/pkg/database"
	"github.com/groupcare/backend/pkg/queue"
	"github.com/groupcare/backend/pkg/redis"
	"github.com/groupcare/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	sessionRepo := sessions.NewRepository(pool)
	enrollmentRepo := enrollment.NewRepository(pool)

	runner := worker.NewRunner(jobQueue, logger)
	runner.Handle(queue.JobTypeSessionReminder,
		worker.NewReminderProcessor(enrollmentRepo, notifications.NewRepository(pool), pubsub, logger))

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:           cfg.AWS.Region,
		AccessKeyID:      cfg.AWS.AccessKeyID,
		SecretAccessKey:  cfg.AWS.SecretAccessKey,
		AttendanceBucket: cfg.AWS.AttendanceBucket,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled; attendance exports will retry into the DLQ", zap.Error(err))
	} else {
		runner.Handle(queue.JobTypeAttendanceExport, worker.NewExportProcessor(enrollmentRepo, s3Client, logger))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(workerCtx)
	}()
	logger.Info("worker started")

	if cfg.Sweep.InProcess {
		roomManager := rooms.NewManager(enrollmentRepo, pubsub, rooms.Credentials{}, logger)
		notifier := notify.NewQueueNotifier(jobQueue, pubsub, logger)
		dispatcher := reminders.NewDispatcher(notifier, sessionRepo, cfg.Sweep.NotifyTimeout, logger)
		scheduler := sweep.NewScheduler(sessionRepo, dispatcher, pubsub, roomManager, jobQueue, sweep.Options{
			Lookback:    cfg.Sweep.Lookback,
			Parallelism: cfg.Sweep.Parallelism,
		}, logger)
		ticker := sweep.NewTicker(scheduler, sweep.Intervals{
			Status:    cfg.Sweep.StatusInterval,
			Reminders: cfg.Sweep.ReminderInterval,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker.Run(workerCtx)
		}()
		logger.Info("in-process sweeps started",
			zap.Duration("status_interval", cfg.Sweep.StatusInterval),
			zap.Duration("reminder_interval", cfg.Sweep.ReminderInterval))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
