// Package notifications announces confirmed bookings: confirmation emails go through the
// job queue and a booking.confirmed event goes to the broker. Failures never reach the caller.
package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/events"
	"github.com/wellbeing-clinic/booking/pkg/queue"
)

const dispatchTimeout = 5 * time.Second

// EmailEnqueuer is the email job queue.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// EventPublisher publishes booking events.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, e events.BookingConfirmed) error
}

// Dispatcher sends booking confirmations.
type Dispatcher struct {
	emails        EmailEnqueuer
	events        EventPublisher
	clinicName    string
	operatorEmail string
	logger        *zap.Logger
}

// NewDispatcher creates a dispatcher. events may be nil.
func NewDispatcher(emails EmailEnqueuer, publisher EventPublisher, clinicName, operatorEmail string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{emails: emails, events: publisher, clinicName: clinicName, operatorEmail: operatorEmail, logger: logger}
}

// SendBookingConfirmation queues the client and operator emails and publishes the confirmation event.
// It outlives a canceled request context so a disconnecting browser does not drop the emails.
func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, a *models.Appointment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	log := d.logger.With(zap.String("short_reference", a.ShortReference), zap.String("appointment_id", a.ID.String()))

	if subject, body, err := ClientConfirmation(d.clinicName, a); err != nil {
		log.Error("render client confirmation failed", zap.Error(err))
	} else {
		d.enqueue(ctx, log, a, models.EmailTypeClientConfirmation, a.ClientEmail, subject, body)
	}
	if d.operatorEmail != "" {
		if subject, body, err := OperatorConfirmation(d.clinicName, a); err != nil {
			log.Error("render operator confirmation failed", zap.Error(err))
		} else {
			d.enqueue(ctx, log, a, models.EmailTypeOperatorConfirmation, d.operatorEmail, subject, body)
		}
	}

	if d.events != nil {
		if err := d.events.PublishBookingConfirmed(ctx, events.FromAppointment(a)); err != nil {
			log.Warn("publish booking.confirmed failed", zap.Error(err))
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, log *zap.Logger, a *models.Appointment, emailType, to, subject, body string) {
	id := a.ID
	err := d.emails.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType:      emailType,
		AppointmentID:  &id,
		ShortReference: a.ShortReference,
		RecipientEmail: to,
		Subject:        subject,
		BodyHTML:       body,
	})
	if err != nil {
		log.Warn("enqueue confirmation email failed", zap.String("email_type", emailType), zap.Error(err))
	}
}
