// Package events publishes booking domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/models"
)

// QueueBookingConfirmed is the durable queue confirmed bookings are published to.
const QueueBookingConfirmed = "booking.confirmed"

// BookingConfirmed is published once per appointment that reaches Scheduled.
type BookingConfirmed struct {
	AppointmentID  string    `json:"appointment_id"`
	ShortReference string    `json:"short_reference"`
	CounselorID    string    `json:"counselor_id"`
	ServiceID      string    `json:"service_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	ClientEmail    string    `json:"client_email"`
	Amount         string    `json:"amount"`
	PromoCode      string    `json:"promo_code,omitempty"`
	TrxID          string    `json:"trx_id"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}

// FromAppointment builds the event for a confirmed appointment.
func FromAppointment(a *models.Appointment) BookingConfirmed {
	confirmedAt := a.UpdatedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now()
	}
	return BookingConfirmed{
		AppointmentID:  a.ID.String(),
		ShortReference: a.ShortReference,
		CounselorID:    a.CounselorID,
		ServiceID:      a.ServiceID,
		Date:           a.Date,
		Time:           a.Time,
		ClientEmail:    a.ClientEmail,
		Amount:         a.Price.StringFixed(2),
		PromoCode:      a.PromoCode,
		TrxID:          a.TrxID,
		ConfirmedAt:    confirmedAt.UTC(),
	}
}

// Publisher keeps one AMQP channel open and redials after a failure.
// A Publisher with an empty URL is disabled and drops events.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher creates a publisher. The broker is dialed on first publish.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, logger: logger}
}

// Enabled reports whether a broker URL is configured.
func (p *Publisher) Enabled() bool {
	return p.url != ""
}

// PublishBookingConfirmed publishes e as a persistent message on the booking.confirmed queue.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, e BookingConfirmed) error {
	if !p.Enabled() {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", QueueBookingConfirmed, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    e.AppointmentID,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Debug("published booking.confirmed", zap.String("short_reference", e.ShortReference))
	return nil
}

// channel returns an open channel, dialing when needed. Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(QueueBookingConfirmed, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close closes the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
