// Package scheduler runs periodic maintenance tasks on asynq.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/payments"
)

const (
	// TypeSweepStale resolves Pending appointments past their TTL.
	TypeSweepStale = "booking:sweep_stale"

	queueMaintenance = "maintenance"
	sweepTimeout     = 2 * time.Minute
)

// Sweeper resolves stale Pending appointments.
type Sweeper interface {
	SweepStale(ctx context.Context, now time.Time) (payments.SweepReport, error)
}

// NewSweepTask builds the sweep task. It is never retried; the next tick covers a failed run.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweepStale, nil,
		asynq.Queue(queueMaintenance),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
		asynq.Unique(sweepTimeout),
	)
}

// HandleSweep returns the asynq handler for TypeSweepStale.
func HandleSweep(sweeper Sweeper, now func() time.Time, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		report, err := sweeper.SweepStale(ctx, now())
		if err != nil {
			logger.Error("stale sweep failed", zap.Error(err), zap.Int("scanned", report.Scanned))
			return fmt.Errorf("sweep stale: %w", err)
		}
		return nil
	}
}

// Runner owns the asynq scheduler that enqueues sweeps and the server that runs them.
type Runner struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

// NewRunner registers the sweep on cronSpec (e.g. "@every 5m").
func NewRunner(redisOpt asynq.RedisClientOpt, cronSpec string, sweeper Sweeper, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   sugar,
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Warn("enqueue sweep failed", zap.Error(err))
			}
		},
	})
	if _, err := scheduler.Register(cronSpec, NewSweepTask()); err != nil {
		return nil, fmt.Errorf("register sweep %q: %w", cronSpec, err)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     1,
		Queues:          map[string]int{queueMaintenance: 1},
		Logger:          sugar,
		ShutdownTimeout: 10 * time.Second,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSweepStale, HandleSweep(sweeper, time.Now, logger))

	return &Runner{scheduler: scheduler, server: server, mux: mux, logger: logger}, nil
}

// Start starts the server and the scheduler without blocking.
func (r *Runner) Start() error {
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	r.logger.Info("sweep scheduler started")
	return nil
}

// Shutdown stops enqueuing and waits for a running sweep to finish.
func (r *Runner) Shutdown() {
	r.scheduler.Shutdown()
	r.server.Shutdown()
}
