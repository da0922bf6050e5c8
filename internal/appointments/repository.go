package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/database"
)

// Constraint names from 001_schema.sql.
const (
	constraintShortReference = "appointments_short_reference_key"
	constraintPendingKey     = "appointments_pending_idempotency_key"
	constraintActiveSlot     = "appointments_active_slot_key"
	constraintPaymentID      = "appointments_gateway_payment_id_key"
)

var (
	// ErrShortReferenceTaken is returned by Create when the generated reference already exists.
	ErrShortReferenceTaken = errors.New("short reference already exists")
	// ErrDuplicatePending is returned by Create when a Pending appointment holds the idempotency key.
	ErrDuplicatePending = errors.New("pending appointment exists for idempotency key")
)

// ConfirmOutcome is the result of a Pending -> Scheduled attempt.
type ConfirmOutcome int

const (
	// Confirmed means this call moved the appointment to Scheduled.
	Confirmed ConfirmOutcome = iota + 1
	// AlreadyFinal means the appointment had already left Pending; nothing changed.
	AlreadyFinal
	// SlotTaken means another appointment holds the slot; this one was canceled instead.
	SlotTaken
	// LateCapture means the payment was captured after the appointment had been canceled.
	// The capture is recorded on the canceled appointment so it can be refunded.
	LateCapture
	// ConfirmedOverPromoLimit means the appointment was confirmed but its promo code had
	// already reached its usage limit, so the use was not counted.
	ConfirmedOverPromoLimit
)

// Receipt is the gateway evidence stored on a confirmed appointment.
type Receipt struct {
	TrxID       string
	PayerMsisdn string
}

// Slot is one booked (date, time) pair.
type Slot struct {
	Date string
	Time string
}

// ListFilter narrows operator listings.
type ListFilter struct {
	Status      models.AppointmentStatus
	CounselorID string
	Limit       int
}

const selectColumns = `id, short_reference, idempotency_key, client_name, client_email, client_phone,
	counselor_id, service_id, slot_date, slot_time, base_price::text, price::text,
	COALESCE(promo_code, ''), COALESCE(notes, ''), COALESCE(gateway_payment_id, ''),
	COALESCE(gateway_redirect_url, ''), COALESCE(trx_id, ''), COALESCE(payer_msisdn, ''),
	status, payment_status, COALESCE(cancel_reason, ''), created_at, updated_at`

// Repository handles appointment persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates an appointments repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var a models.Appointment
	var basePrice, price, status, paymentStatus string
	err := row.Scan(&a.ID, &a.ShortReference, &a.IdempotencyKey, &a.ClientName, &a.ClientEmail, &a.ClientPhone,
		&a.CounselorID, &a.ServiceID, &a.Date, &a.Time, &basePrice, &price,
		&a.PromoCode, &a.Notes, &a.GatewayPaymentID,
		&a.GatewayRedirectURL, &a.TrxID, &a.PayerMsisdn,
		&status, &paymentStatus, &a.CancelReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("parse base_price: %w", err)
	}
	if a.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	a.Status = models.AppointmentStatus(status)
	a.PaymentStatus = models.PaymentStatus(paymentStatus)
	return &a, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundError{Resource: "appointment", Msg: msg, Err: err}
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a Pending appointment and fills in ID and timestamps.
func (r *Repository) Create(ctx context.Context, a *models.Appointment) error {
	const q = `INSERT INTO appointments (short_reference, idempotency_key, client_name, client_email, client_phone,
		counselor_id, service_id, slot_date, slot_time, base_price, price, promo_code, notes, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12, $13, 'Pending', 'Pending')
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, a.ShortReference, a.IdempotencyKey, a.ClientName, a.ClientEmail, a.ClientPhone,
		a.CounselorID, a.ServiceID, a.Date, a.Time, a.BasePrice.StringFixed(2), a.Price.StringFixed(2),
		nullable(a.PromoCode), nullable(a.Notes)).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		switch name, ok := database.UniqueViolation(err); {
		case ok && name == constraintShortReference:
			return ErrShortReferenceTaken
		case ok && name == constraintPendingKey:
			return ErrDuplicatePending
		}
		return domain.StoreWriteError{Op: "insert appointment", Err: err}
	}
	a.Status = models.AppointmentPending
	a.PaymentStatus = models.PaymentPending
	return nil
}

// GetByID returns an appointment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "")
	}
	return a, nil
}

// GetByShortReference returns an appointment by its human-shareable reference.
func (r *Repository) GetByShortReference(ctx context.Context, ref string) (*models.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM appointments WHERE short_reference = $1`, ref))
	if err != nil {
		return nil, notFound(err, "")
	}
	return a, nil
}

// GetByPaymentID returns the appointment tagged with a gateway payment id.
func (r *Repository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM appointments WHERE gateway_payment_id = $1`, paymentID))
	if err != nil {
		return nil, notFound(err, "payment session expired or invalid")
	}
	return a, nil
}

// GetPendingByIdempotencyKey returns the in-flight appointment for a checkout key.
func (r *Repository) GetPendingByIdempotencyKey(ctx context.Context, key string) (*models.Appointment, error) {
	const q = `SELECT ` + selectColumns + ` FROM appointments WHERE idempotency_key = $1 AND status = 'Pending'`
	a, err := scanAppointment(r.db.QueryRow(ctx, q, key))
	if err != nil {
		return nil, notFound(err, "")
	}
	return a, nil
}

// AttachPayment sets the gateway payment id and redirect URL once, while the appointment is Pending.
func (r *Repository) AttachPayment(ctx context.Context, id uuid.UUID, paymentID, redirectURL string) error {
	const q = `UPDATE appointments SET gateway_payment_id = $2, gateway_redirect_url = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'Pending' AND gateway_payment_id IS NULL`
	tag, err := r.db.Exec(ctx, q, id, paymentID, redirectURL)
	if err != nil {
		if name, ok := database.UniqueViolation(err); ok && name == constraintPaymentID {
			return domain.ConflictError{Resource: "payment", Msg: "payment id already attached to another appointment", Err: err}
		}
		return domain.StoreWriteError{Op: "attach payment", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ConflictError{Resource: "appointment", Msg: "no longer awaiting payment"}
	}
	return nil
}

// BookedSlots returns the (date, time) pairs held by Scheduled or Completed appointments of a counselor.
func (r *Repository) BookedSlots(ctx context.Context, counselorID string) ([]Slot, error) {
	const q = `SELECT slot_date, slot_time FROM appointments
		WHERE counselor_id = $1 AND status IN ('Scheduled', 'Completed')
		ORDER BY slot_date`
	rows, err := r.db.Query(ctx, q, counselorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.Date, &s.Time); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// SlotTaken reports whether a Scheduled or Completed appointment holds the slot.
func (r *Repository) SlotTaken(ctx context.Context, counselorID, date, slotTime string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM appointments
		WHERE counselor_id = $1 AND slot_date = $2 AND slot_time = $3 AND status IN ('Scheduled', 'Completed'))`
	var taken bool
	err := r.db.QueryRow(ctx, q, counselorID, date, slotTime).Scan(&taken)
	return taken, err
}

// Confirm moves a Pending appointment to Scheduled and counts its promo code, in one transaction.
// When the slot index rejects the update, the appointment is canceled with reason slot_taken
// and the payment recorded as completed so it can be refunded. A capture that arrives after the
// appointment was canceled is recorded the same way and reported as LateCapture.
func (r *Repository) Confirm(ctx context.Context, paymentID string, rc Receipt) (*models.Appointment, ConfirmOutcome, error) {
	const confirmQ = `UPDATE appointments
		SET status = 'Scheduled', payment_status = 'Completed', trx_id = $2, payer_msisdn = $3, updated_at = NOW()
		WHERE gateway_payment_id = $1 AND status = 'Pending'
		RETURNING ` + selectColumns
	// times_used never exceeds usage_limit.
	const promoQ = `UPDATE promo_codes SET times_used = times_used + 1, updated_at = NOW()
		WHERE code = $1 AND (usage_limit IS NULL OR times_used < usage_limit)`

	var (
		confirmed *models.Appointment
		outcome   = Confirmed
	)
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		a, err := scanAppointment(tx.QueryRow(ctx, confirmQ, paymentID, nullable(rc.TrxID), nullable(rc.PayerMsisdn)))
		if err != nil {
			return err
		}
		if a.PromoCode != "" {
			tag, err := tx.Exec(ctx, promoQ, a.PromoCode)
			if err != nil {
				return fmt.Errorf("count promo usage: %w", err)
			}
			if tag.RowsAffected() == 0 {
				outcome = ConfirmedOverPromoLimit
			}
		}
		confirmed = a
		return nil
	})
	switch {
	case err == nil:
		return confirmed, outcome, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.recordLateCapture(ctx, paymentID, rc)
	}
	if name, ok := database.UniqueViolation(err); ok && name == constraintActiveSlot {
		a, canceled, cerr := r.cancelPending(ctx, paymentID, models.PaymentCompleted, models.CancelReasonSlotTaken, rc)
		if cerr != nil {
			return nil, 0, cerr
		}
		if !canceled {
			return r.recordLateCapture(ctx, paymentID, rc)
		}
		return a, SlotTaken, nil
	}
	return nil, 0, domain.StoreWriteError{Op: "confirm appointment", Err: err}
}

// recordLateCapture marks the payment of an appointment that left Pending without it as completed.
// Appointments whose payment is already completed are returned unchanged as AlreadyFinal.
func (r *Repository) recordLateCapture(ctx context.Context, paymentID string, rc Receipt) (*models.Appointment, ConfirmOutcome, error) {
	const q = `UPDATE appointments
		SET payment_status = 'Completed', trx_id = COALESCE($2, trx_id), payer_msisdn = COALESCE($3, payer_msisdn), updated_at = NOW()
		WHERE gateway_payment_id = $1 AND status = 'Canceled' AND payment_status <> 'Completed'
		RETURNING ` + selectColumns
	a, err := scanAppointment(r.db.QueryRow(ctx, q, paymentID, nullable(rc.TrxID), nullable(rc.PayerMsisdn)))
	if err == nil {
		return a, LateCapture, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, domain.StoreWriteError{Op: "record late capture", Err: err}
	}
	a, err = r.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, 0, err
	}
	return a, AlreadyFinal, nil
}

// Cancel moves a Pending appointment to Canceled. The bool reports whether this call made the transition;
// when false the returned appointment is the current (already terminal) record.
func (r *Repository) Cancel(ctx context.Context, paymentID string, ps models.PaymentStatus, reason string) (*models.Appointment, bool, error) {
	return r.cancelPending(ctx, paymentID, ps, reason, Receipt{})
}

func (r *Repository) cancelPending(ctx context.Context, paymentID string, ps models.PaymentStatus, reason string, rc Receipt) (*models.Appointment, bool, error) {
	const q = `UPDATE appointments
		SET status = 'Canceled', payment_status = $2, cancel_reason = $3,
			trx_id = COALESCE($4, trx_id), payer_msisdn = COALESCE($5, payer_msisdn), updated_at = NOW()
		WHERE gateway_payment_id = $1 AND status = 'Pending'
		RETURNING ` + selectColumns
	a, err := scanAppointment(r.db.QueryRow(ctx, q, paymentID, string(ps), reason, nullable(rc.TrxID), nullable(rc.PayerMsisdn)))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.StoreWriteError{Op: "cancel appointment", Err: err}
	}
	a, err = r.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	return a, false, nil
}

// CancelUnpaid cancels a Pending appointment that never got a gateway payment id.
func (r *Repository) CancelUnpaid(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	const q = `UPDATE appointments SET status = 'Canceled', payment_status = 'Canceled', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'Pending'`
	tag, err := r.db.Exec(ctx, q, id, reason)
	if err != nil {
		return false, domain.StoreWriteError{Op: "cancel unpaid appointment", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// ListStalePending returns Pending appointments created before cutoff, oldest first.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Appointment, error) {
	const q = `SELECT ` + selectColumns + ` FROM appointments
		WHERE status = 'Pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	return r.list(ctx, q, cutoff, limit)
}

// List returns appointments for operators, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	const q = `SELECT ` + selectColumns + ` FROM appointments
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR counselor_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`
	return r.list(ctx, q, string(f.Status), f.CounselorID, f.Limit)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*models.Appointment, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Complete marks a Scheduled appointment as Completed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	const q = `UPDATE appointments SET status = 'Completed', updated_at = NOW()
		WHERE id = $1 AND status = 'Scheduled'
		RETURNING ` + selectColumns
	return r.operatorTransition(ctx, q, id)
}

// CancelScheduled cancels a Scheduled appointment on operator request, freeing its slot.
func (r *Repository) CancelScheduled(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	const q = `UPDATE appointments SET status = 'Canceled', cancel_reason = 'operator', updated_at = NOW()
		WHERE id = $1 AND status = 'Scheduled'
		RETURNING ` + selectColumns
	return r.operatorTransition(ctx, q, id)
}

func (r *Repository) operatorTransition(ctx context.Context, q string, id uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, q, id))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.StoreWriteError{Op: "update appointment", Err: err}
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ConflictError{Resource: "appointment", Msg: "only Scheduled appointments can be changed"}
}
