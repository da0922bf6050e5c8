package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/internal/payments/bkash"
)

const sweepBatch = 100

// Store is the appointment persistence the reconciler drives.
type Store interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Appointment, error)
	SlotTaken(ctx context.Context, counselorID, date, slotTime string) (bool, error)
	Confirm(ctx context.Context, paymentID string, rc appointments.Receipt) (*models.Appointment, appointments.ConfirmOutcome, error)
	Cancel(ctx context.Context, paymentID string, ps models.PaymentStatus, reason string) (*models.Appointment, bool, error)
	CancelUnpaid(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Appointment, error)
}

// Notifier announces confirmed bookings. Delivery is best-effort.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, a *models.Appointment)
}

// ReceiptArchiver keeps the raw gateway response of a finished payment.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, paymentID string, raw []byte) error
}

// Outcome is the reconciliation result returned to the callback caller.
type Outcome struct {
	Success           bool                     `json:"success"`
	TransactionStatus string                   `json:"transactionStatus,omitempty"`
	TrxID             string                   `json:"trxID,omitempty"`
	AppointmentID     string                   `json:"appointmentId,omitempty"`
	ShortReference    string                   `json:"shortReference,omitempty"`
	Status            models.AppointmentStatus `json:"status,omitempty"`
	Message           string                   `json:"error,omitempty"`
}

// SweepReport summarises one stale-Pending sweep.
type SweepReport struct {
	Scanned   int
	Confirmed int
	Canceled  int
	Skipped   int
}

// Reconciler turns a gateway callback into exactly one terminal state per appointment.
type Reconciler struct {
	store      Store
	gateway    Gateway
	notifier   Notifier
	archive    ReceiptArchiver
	pendingTTL time.Duration
	logger     *zap.Logger
}

// NewReconciler creates the callback reconciler. notifier and archive may be nil.
func NewReconciler(store Store, gateway Gateway, notifier Notifier, archive ReceiptArchiver, pendingTTL time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, gateway: gateway, notifier: notifier, archive: archive, pendingTTL: pendingTTL, logger: logger}
}

// Reconcile executes the payment with the gateway and settles the appointment that holds paymentID.
// clientStatus is the status the browser reported. It is logged only; the gateway decides the outcome.
// Calling it again after the appointment left Pending returns the recorded outcome without side effects.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID, clientStatus string) (Outcome, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Outcome{}, domain.NewValidationError("paymentID", "is required")
	}
	a, err := r.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	log := r.logger.With(zap.String("payment_id", paymentID), zap.String("short_reference", a.ShortReference),
		zap.String("client_status", clientStatus))
	if a.Status != models.AppointmentPending {
		log.Info("callback for settled appointment", zap.String("status", string(a.Status)))
		return outcomeFor(a, ""), nil
	}

	taken, err := r.store.SlotTaken(ctx, a.CounselorID, a.Date, a.Time)
	if err != nil {
		return Outcome{}, domain.StoreWriteError{Op: "check slot", Err: err}
	}
	if taken {
		log.Warn("slot taken before payment execution, canceling")
		settled, _, err := r.store.Cancel(ctx, paymentID, models.PaymentCanceled, models.CancelReasonSlotTaken)
		if err != nil {
			return Outcome{}, err
		}
		return outcomeFor(settled, ""), nil
	}

	tok, err := r.gateway.GrantToken(ctx)
	if err != nil {
		log.Error("grant token failed during reconcile", zap.Error(err))
		return Outcome{}, err
	}
	res, err := r.execute(ctx, tok, paymentID)
	if err != nil {
		log.Error("payment execution unresolved, leaving appointment pending", zap.Error(err))
		return Outcome{}, err
	}
	if _, ok := res.(bkash.PaymentNotExecuted); ok {
		log.Warn("gateway reports payment not executed after callback")
		return Outcome{}, domain.GatewayUnavailableError{Op: "execute payment", Err: fmt.Errorf("payment %s not executed", paymentID)}
	}
	return r.settle(ctx, a, res)
}

// execute runs execute and falls back to a status query when the outcome is unknown.
func (r *Reconciler) execute(ctx context.Context, tok bkash.Token, paymentID string) (bkash.ExecuteResult, error) {
	res, err := r.gateway.ExecutePayment(ctx, tok, paymentID)
	if err != nil {
		if !domain.IsGatewayUnavailable(err) {
			return nil, err
		}
		r.logger.Warn("execute failed, querying payment status", zap.String("payment_id", paymentID), zap.Error(err))
		return r.gateway.QueryPayment(ctx, tok, paymentID)
	}
	if _, ok := res.(bkash.PaymentAlreadyExecuted); ok {
		return r.gateway.QueryPayment(ctx, tok, paymentID)
	}
	return res, nil
}

// settle applies a terminal gateway result to the Pending appointment a.
func (r *Reconciler) settle(ctx context.Context, a *models.Appointment, res bkash.ExecuteResult) (Outcome, error) {
	paymentID := a.GatewayPaymentID
	log := r.logger.With(zap.String("payment_id", paymentID), zap.String("short_reference", a.ShortReference))

	switch v := res.(type) {
	case bkash.PaymentCompleted:
		r.archiveReceipt(ctx, paymentID, v.Raw)
		settled, outcome, err := r.store.Confirm(ctx, paymentID, appointments.Receipt{TrxID: v.TrxID, PayerMsisdn: v.CustomerMsisdn})
		if err != nil {
			log.Error("confirm after completed payment failed", zap.Error(err), zap.String("trx_id", v.TrxID))
			return Outcome{}, err
		}
		switch outcome {
		case appointments.Confirmed, appointments.ConfirmedOverPromoLimit:
			if outcome == appointments.ConfirmedOverPromoLimit {
				log.Warn("promo code usage limit already reached at confirmation, use not counted",
					zap.String("promo_code", settled.PromoCode))
			}
			log.Info("appointment confirmed", zap.String("trx_id", v.TrxID))
			if r.notifier != nil {
				r.notifier.SendBookingConfirmation(ctx, settled)
			}
		case appointments.SlotTaken:
			log.Error("payment captured for a taken slot, refund required", zap.String("trx_id", v.TrxID))
		case appointments.LateCapture:
			log.Error("payment captured after appointment was canceled, refund required",
				zap.String("trx_id", v.TrxID), zap.String("cancel_reason", settled.CancelReason))
		}
		return outcomeFor(settled, v.TransactionStatus), nil

	case bkash.PaymentDeclined:
		r.archiveReceipt(ctx, paymentID, v.Raw)
		ps, reason := models.PaymentFailed, models.CancelReasonPaymentFailed
		if v.Canceled {
			ps, reason = models.PaymentCanceled, models.CancelReasonPaymentCanceled
		}
		settled, _, err := r.store.Cancel(ctx, paymentID, ps, reason)
		if err != nil {
			return Outcome{}, err
		}
		log.Info("payment declined", zap.String("code", v.StatusCode), zap.String("reason", reason))
		out := outcomeFor(settled, v.TransactionStatus)
		if !out.Success && v.StatusMessage != "" {
			out.Message = v.StatusMessage
		}
		return out, nil
	}
	return Outcome{}, domain.GatewayUnavailableError{Op: "settle payment", Err: fmt.Errorf("unexpected result %T", res)}
}

// SweepStale resolves Pending appointments older than the pending TTL. Sessions the gateway
// completed are confirmed; the rest are canceled. Appointments the gateway cannot answer for
// are left for the next sweep.
func (r *Reconciler) SweepStale(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	stale, err := r.store.ListStalePending(ctx, now.Add(-r.pendingTTL), sweepBatch)
	if err != nil {
		return report, fmt.Errorf("list stale pending: %w", err)
	}
	report.Scanned = len(stale)

	var tok *bkash.Token
	for i, a := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if a.GatewayPaymentID == "" {
			ok, err := r.store.CancelUnpaid(ctx, a.ID, models.CancelReasonExpired)
			if err != nil {
				r.logger.Error("cancel unpaid appointment failed", zap.String("appointment_id", a.ID.String()), zap.Error(err))
				report.Skipped++
				continue
			}
			if ok {
				report.Canceled++
			}
			continue
		}

		if tok == nil {
			t, err := r.gateway.GrantToken(ctx)
			if err != nil {
				r.logger.Error("grant token failed during sweep", zap.Error(err))
				report.Skipped += len(stale) - i
				return report, err
			}
			tok = &t
		}

		res, err := r.gateway.QueryPayment(ctx, *tok, a.GatewayPaymentID)
		if err != nil {
			r.logger.Warn("query payment failed, retrying next sweep", zap.String("payment_id", a.GatewayPaymentID), zap.Error(err))
			report.Skipped++
			continue
		}
		switch res.(type) {
		case bkash.PaymentCompleted, bkash.PaymentDeclined:
			out, err := r.settle(ctx, a, res)
			if err != nil {
				report.Skipped++
				continue
			}
			if out.Success {
				report.Confirmed++
			} else {
				report.Canceled++
			}
		default:
			_, ok, err := r.store.Cancel(ctx, a.GatewayPaymentID, models.PaymentCanceled, models.CancelReasonExpired)
			if err != nil {
				r.logger.Error("expire pending appointment failed", zap.String("payment_id", a.GatewayPaymentID), zap.Error(err))
				report.Skipped++
				continue
			}
			if ok {
				report.Canceled++
			}
		}
	}

	r.logger.Info("stale pending sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("confirmed", report.Confirmed),
		zap.Int("canceled", report.Canceled),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (r *Reconciler) archiveReceipt(ctx context.Context, paymentID string, raw []byte) {
	if r.archive == nil || len(raw) == 0 {
		return
	}
	if err := r.archive.ArchiveReceipt(ctx, paymentID, raw); err != nil {
		r.logger.Warn("archive payment receipt failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func outcomeFor(a *models.Appointment, transactionStatus string) Outcome {
	out := Outcome{
		Success:           a.Status.HoldsSlot(),
		TransactionStatus: transactionStatus,
		TrxID:             a.TrxID,
		AppointmentID:     a.ID.String(),
		ShortReference:    a.ShortReference,
		Status:            a.Status,
	}
	if out.TransactionStatus == "" {
		out.TransactionStatus = string(a.PaymentStatus)
	}
	if !out.Success {
		switch {
		case a.CancelReason != models.CancelReasonSlotTaken && a.PaymentStatus == models.PaymentCompleted:
			out.Message = "payment was received after the booking was canceled and will be refunded"
		case a.CancelReason == models.CancelReasonSlotTaken:
			out.Message = "this time slot is no longer available"
		case a.CancelReason == models.CancelReasonPaymentCanceled:
			out.Message = "payment was canceled"
		case a.CancelReason == models.CancelReasonExpired:
			out.Message = "payment session expired"
		default:
			out.Message = "payment failed"
		}
	}
	return out
}
