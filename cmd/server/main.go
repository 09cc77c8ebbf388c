// Package main runs the group session HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/groupcare/backend/config"
	"github.com/groupcare/backend/internal/auth"
	"github.com/groupcare/backend/internal/enrollment"
	"github.com/groupcare/backend/internal/middleware"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/internal/notifications"
	"github.com/groupcare/backend/internal/notify"
	"github.com/groupcare/backend/internal/realtime"
	"github.com/groupcare/backend/internal/reminders"
	"github.com/groupcare/backend/internal/rooms"
	"github.com/groupcare/backend/internal/sessions"
	"github.com/groupcare/backend/internal/sweep"
	"github.com/groupcare/backend/pkg/database"
	"github.com/groupcare/backend/pkg/queue"
	"github.com/groupcare/backend/pkg/redis"
	"github.com/groupcare/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(pubsub, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Stores
	sessionRepo := sessions.NewRepository(pool)
	enrollmentRepo := enrollment.NewRepository(pool)
	notificationRepo := notifications.NewRepository(pool)

	// Live rooms (ZEGOCLOUD)
	roomManager := rooms.NewManager(enrollmentRepo, hub, rooms.Credentials{
		AppID:        cfg.Zego.AppID,
		ServerSecret: cfg.Zego.ServerSecret,
		TokenTTL:     time.Duration(cfg.Zego.TokenTTLMinute) * time.Minute,
	}, logger)
	if cfg.Zego.AppID == 0 || cfg.Zego.ServerSecret == "" {
		logger.Warn("ZEGOCLOUD not configured; room tokens disabled")
	}

	// Services
	sessionService := sessions.NewService(sessionRepo, roomManager, hub, logger)
	sessionService.SetExporter(jobQueue)
	enrollmentService := enrollment.NewService(enrollmentRepo, logger)

	// Sweeps
	notifier := notify.NewQueueNotifier(jobQueue, hub, logger)
	dispatcher := reminders.NewDispatcher(notifier, sessionRepo, cfg.Sweep.NotifyTimeout, logger)
	scheduler := sweep.NewScheduler(sessionRepo, dispatcher, hub, roomManager, jobQueue, sweep.Options{
		Lookback:    cfg.Sweep.Lookback,
		Parallelism: cfg.Sweep.Parallelism,
	}, logger)
	intervals := sweep.Intervals{Status: cfg.Sweep.StatusInterval, Reminders: cfg.Sweep.ReminderInterval}
	if cfg.Sweep.Secret == "" {
		logger.Warn("SWEEP_SECRET not set; /internal/sweep rejects every call")
	}

	// Handlers
	sessionHandler := sessions.NewHandler(sessionService)
	enrollmentHandler := enrollment.NewHandler(enrollmentService)
	roomHandler := rooms.NewHandler(roomManager, logger)
	notificationHandler := notifications.NewHandler(notificationRepo, enrollmentService)
	sweepHandler := sweep.NewHandler(scheduler, intervals)

	validateToken := func(token string) (models.Actor, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return models.Actor{}, err
		}
		return claims.Actor(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Periodic trigger (shared secret, not user auth)
	router.POST("/internal/sweep/:kind", middleware.SharedSecret(cfg.Sweep.Secret), sweepHandler.Run)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", middleware.RequireRole(models.RoleTherapist, models.RoleAdmin), sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.PATCH("/sessions/:id/status", middleware.RequireRole(models.RoleTherapist, models.RoleAdmin), sessionHandler.SetStatus)

		// Enrollment
		api.POST("/sessions/:id/enroll", enrollmentHandler.Enroll)
		api.DELETE("/sessions/:id/enroll", enrollmentHandler.Cancel)
		api.GET("/sessions/:id/enrollment", enrollmentHandler.Status)
		api.GET("/sessions/:id/participants", enrollmentHandler.ListParticipants)
		api.PATCH("/sessions/:id/participants/:userId/confirm", enrollmentHandler.Confirm)

		// Reminder delivery log
		api.GET("/sessions/:id/notifications", notificationHandler.ListBySession)

		// Live room
		api.GET("/sessions/:id/room-token", roomHandler.Token)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, validateToken, roomManager.Authorize, logger))

	// A sweep response is written after a run that may take its whole interval.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: intervals.Deadline(sweep.KindReminders) + time.Duration(cfg.Server.WriteTimeout)*time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
