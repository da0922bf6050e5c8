package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType for booking notifications.
const (
	EmailTypeClientConfirmation   = "client_confirmation"
	EmailTypeOperatorConfirmation = "operator_confirmation"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusSent   = "sent"
	EmailLogStatusFailed = "failed"
)

// EmailLog records each confirmation email delivery attempt.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
