package emaillogs

import (
	"context"

	"github.com/google/uuid"

	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/database"
)

// Repository handles email_logs persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates an email logs repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// Create records one delivery attempt and fills ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, el *models.EmailLog) error {
	const q = `INSERT INTO email_logs (appointment_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
		RETURNING id, created_at`
	return r.db.QueryRow(ctx, q, el.AppointmentID, el.EmailType, el.RecipientEmail, el.Subject, el.Status, el.SentAt, el.ErrorMessage).
		Scan(&el.ID, &el.CreatedAt)
}

// ListByAppointment returns email logs for an appointment, newest first.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*models.EmailLog, error) {
	const q = `SELECT id, appointment_id, email_type, recipient_email, subject, status, sent_at, error_message, created_at
		FROM email_logs
		WHERE appointment_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		var subject, errMsg *string
		if err := rows.Scan(&el.ID, &el.AppointmentID, &el.EmailType, &el.RecipientEmail, &subject, &el.Status, &el.SentAt, &errMsg, &el.CreatedAt); err != nil {
			return nil, err
		}
		if subject != nil {
			el.Subject = *subject
		}
		if errMsg != nil {
			el.ErrorMessage = *errMsg
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
