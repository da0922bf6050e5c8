package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/queue"
)

// JobQueue is the queue surface the email worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogStore records delivery attempts.
type LogStore interface {
	Create(ctx context.Context, el *models.EmailLog) error
}

// EmailProcessor delivers confirmation email jobs and records each attempt in email_logs.
// A failed delivery is logged and dead-lettered, never retried.
type EmailProcessor struct {
	queue  JobQueue
	sender Sender
	logs   LogStore
	logger *zap.Logger
	now    func() time.Time
}

// NewEmailProcessor creates an email job processor.
func NewEmailProcessor(q JobQueue, sender Sender, logs LogStore, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{queue: q, sender: sender, logs: logs, logger: logger, now: time.Now}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	sendErr := p.sender.Send(ctx, payload.RecipientEmail, payload.Subject, payload.BodyHTML)
	el := &models.EmailLog{
		AppointmentID:  payload.AppointmentID,
		EmailType:      payload.EmailType,
		RecipientEmail: payload.RecipientEmail,
		Subject:        payload.Subject,
		Status:         models.EmailLogStatusSent,
	}
	if sendErr != nil {
		el.Status = models.EmailLogStatusFailed
		el.ErrorMessage = sendErr.Error()
	} else {
		sent := p.now()
		el.SentAt = &sent
	}
	if err := p.logs.Create(ctx, el); err != nil {
		p.logger.Error("write email log failed", zap.Error(err), zap.String("job_id", job.ID))
	}
	if sendErr != nil {
		return sendErr
	}

	p.logger.Info("email sent",
		zap.String("email_type", payload.EmailType),
		zap.String("short_reference", payload.ShortReference),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, dead-letter on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.ErrorBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if dlqErr := p.queue.DeadLetter(context.WithoutCancel(ctx), job, err); dlqErr != nil {
				p.logger.Error("dead-letter failed", zap.Error(dlqErr))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
