// Package main runs the background worker: confirmation email delivery and the stale-Pending sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wellbeing-clinic/booking/config"
	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/emaillogs"
	"github.com/wellbeing-clinic/booking/internal/notifications"
	"github.com/wellbeing-clinic/booking/internal/payments"
	"github.com/wellbeing-clinic/booking/internal/payments/bkash"
	"github.com/wellbeing-clinic/booking/internal/scheduler"
	"github.com/wellbeing-clinic/booking/internal/worker"
	"github.com/wellbeing-clinic/booking/pkg/database"
	"github.com/wellbeing-clinic/booking/pkg/events"
	"github.com/wellbeing-clinic/booking/pkg/queue"
	"github.com/wellbeing-clinic/booking/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archive payments.ReceiptArchiver
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
			archive = ra
		}
	}

	publisher := events.NewPublisher(cfg.RabbitMQ.URL, logger)
	defer publisher.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	dispatcher := notifications.NewDispatcher(jobQueue, publisher, cfg.Email.FromName, cfg.Booking.OperatorEmail, logger)
	reconciler := payments.NewReconciler(appointments.NewRepository(pool), bkash.NewClient(cfg.Gateway, logger),
		dispatcher, archive, cfg.Booking.PendingTTL, logger)

	sweeps, err := scheduler.NewRunner(rdb.AsynqOpt(), cfg.Booking.SweepSchedule, reconciler, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	if err := sweeps.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	if cfg.Email.Enabled() {
		processor := worker.NewEmailProcessor(jobQueue, notifications.NewSMTPSender(cfg.Email), emaillogs.NewRepository(pool), logger)
		go func() {
			processor.Run(workerCtx)
			close(done)
		}()
		logger.Info("email worker started")
	} else {
		logger.Warn("SMTP_HOST not set, confirmation emails stay queued")
		close(done)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	sweeps.Shutdown()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
