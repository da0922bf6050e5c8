// Package main runs the clinic booking HTTP server with graceful shutdown.
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

	"github.com/wellbeing-clinic/booking/config"
	"github.com/wellbeing-clinic/booking/internal/analytics"
	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/internal/emaillogs"
	"github.com/wellbeing-clinic/booking/internal/middleware"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/internal/notifications"
	"github.com/wellbeing-clinic/booking/internal/payments"
	"github.com/wellbeing-clinic/booking/internal/payments/bkash"
	"github.com/wellbeing-clinic/booking/internal/promos"
	"github.com/wellbeing-clinic/booking/pkg/database"
	"github.com/wellbeing-clinic/booking/pkg/events"
	"github.com/wellbeing-clinic/booking/pkg/queue"
	"github.com/wellbeing-clinic/booking/pkg/redis"
	"github.com/wellbeing-clinic/booking/pkg/response"
	"github.com/wellbeing-clinic/booking/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var (
		archive  payments.ReceiptArchiver
		receipts appointments.ReceiptLinker
	)
	if cfg.AWS.ReceiptsBucket != "" {
		ra, err := storage.NewReceiptArchive(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ReceiptsBucket:  cfg.AWS.ReceiptsBucket,
		}, logger)
		if err != nil {
			logger.Warn("receipt archive disabled", zap.Error(err))
		} else {
			archive, receipts = ra, ra
		}
	}

	publisher := events.NewPublisher(cfg.RabbitMQ.URL, logger)
	defer publisher.Close()
	if !publisher.Enabled() {
		logger.Info("RABBITMQ_URL not set, booking events disabled")
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	dispatcher := notifications.NewDispatcher(jobQueue, publisher, cfg.Email.FromName, cfg.Booking.OperatorEmail, logger)

	apptRepo := appointments.NewRepository(pool)
	promoRepo := promos.NewRepository(pool)
	emailLogRepo := emaillogs.NewRepository(pool)

	availability := appointments.NewAvailability(apptRepo, cfg.Booking.SlotLabels, logger)
	evaluator := promos.NewEvaluator(promoRepo, logger)
	intake := appointments.NewIntake(apptRepo, evaluator, availability, cfg.Booking.ReferencePrefix, logger)
	gateway := bkash.NewClient(cfg.Gateway, logger)
	bridge := payments.NewBridge(intake, apptRepo, gateway, payments.NewRedisLocker(rdb.Client),
		cfg.Booking.SubmitLockTTL, cfg.Gateway.SessionTTL, cfg.Server.PublicBaseURL+"/api/payment/callback", logger)
	reconciler := payments.NewReconciler(apptRepo, gateway, dispatcher, archive, cfg.Booking.PendingTTL, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
	paymentHandler := payments.NewHandler(bridge, reconciler, cfg.Server.FrontendBaseURL, logger)
	appointmentHandler := appointments.NewHandler(apptRepo, availability, receipts, logger)
	promoHandler := promos.NewHandler(evaluator, logger)
	emailLogsHandler := emaillogs.NewHandler(emailLogRepo)
	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), logger)
	createLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.CreatePerMinute, cfg.RateLimit.CreateBurst)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	public := router.Group("/api")
	{
		public.POST("/create", middleware.RateLimit(createLimiter), paymentHandler.Create)
		public.POST("/callback", paymentHandler.Callback)
		public.GET("/payment/callback", paymentHandler.BrowserCallback)
		public.POST("/promo/validate", promoHandler.Validate)
		public.GET("/counselors/:id/booked-slots", appointmentHandler.BookedSlots)
		public.GET("/counselors/:id/availability", appointmentHandler.FreeSlots)
	}

	staff := router.Group("/api")
	staff.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin, models.RoleCounselor))
	{
		staff.GET("/auth/me", auth.Me)
		staff.GET("/admin/summary", analyticsHandler.Summary)
		staff.GET("/admin/appointments", appointmentHandler.List)
		staff.GET("/admin/appointments/:id", appointmentHandler.Get)
		staff.PATCH("/admin/appointments/:id/complete", appointmentHandler.Complete)
		staff.PATCH("/admin/appointments/:id/cancel", appointmentHandler.Cancel)
		staff.GET("/admin/appointments/:id/receipt", middleware.RequireRole(models.RoleAdmin), appointmentHandler.Receipt)
		staff.GET("/admin/appointments/:id/emails", middleware.RequireRole(models.RoleAdmin), emailLogsHandler.ListByAppointment)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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
