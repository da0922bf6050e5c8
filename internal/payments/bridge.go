package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/internal/payments/bkash"
)

// Gateway is the payment gateway surface used by the bridge and the reconciler.
type Gateway interface {
	GrantToken(ctx context.Context) (bkash.Token, error)
	CreatePayment(ctx context.Context, tok bkash.Token, req bkash.CreatePaymentRequest) (bkash.CreatePaymentResult, error)
	ExecutePayment(ctx context.Context, tok bkash.Token, paymentID string) (bkash.ExecuteResult, error)
	QueryPayment(ctx context.Context, tok bkash.Token, paymentID string) (bkash.ExecuteResult, error)
}

// PendingCreator is the booking intake.
type PendingCreator interface {
	CreatePending(ctx context.Context, req appointments.PendingRequest) (*models.Appointment, bool, error)
}

// PaymentAttacher stores the gateway session on a Pending appointment and expires sessions
// the gateway no longer accepts.
type PaymentAttacher interface {
	AttachPayment(ctx context.Context, id uuid.UUID, paymentID, redirectURL string) error
	Cancel(ctx context.Context, paymentID string, ps models.PaymentStatus, reason string) (*models.Appointment, bool, error)
}

// SessionRequest is a checkout submission.
type SessionRequest struct {
	IdempotencyKey string
	Amount         string
	PayerName      string
	Details        appointments.BookingDetails
}

// Session is an opened (or reused) gateway checkout.
type Session struct {
	RedirectURL    string    `json:"redirectUrl"`
	AppointmentID  uuid.UUID `json:"appointmentId"`
	ShortReference string    `json:"shortReference"`
	Reused         bool      `json:"-"`
}

// Bridge records the Pending appointment first and then opens the gateway session for it.
type Bridge struct {
	intake      PendingCreator
	store       PaymentAttacher
	gateway     Gateway
	locker      Locker
	lockTTL     time.Duration
	sessionTTL  time.Duration
	callbackURL string
	logger      *zap.Logger
}

// NewBridge creates the payment session bridge. locker may be nil. A Pending appointment whose
// gateway session is older than sessionTTL gets a new session on resubmission; zero reuses it forever.
func NewBridge(intake PendingCreator, store PaymentAttacher, gateway Gateway, locker Locker, lockTTL, sessionTTL time.Duration, callbackURL string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		intake:      intake,
		store:       store,
		gateway:     gateway,
		locker:      locker,
		lockTTL:     lockTTL,
		sessionTTL:  sessionTTL,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// DeriveIdempotencyKey keys a submission by counselor, slot and client email.
func DeriveIdempotencyKey(d appointments.BookingDetails) string {
	parts := []string{d.CounselorID, d.Date, d.Time, d.Email}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// OpenSession creates the Pending appointment, opens a gateway session referencing it and returns the
// hosted redirect URL. A repeated submission with the same key returns the session already opened.
func (b *Bridge) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.Details.Name) == "" {
		req.Details.Name = req.PayerName
	}
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(req.Details)
	}

	if b.locker != nil {
		release, ok, err := b.locker.Acquire(ctx, key, b.lockTTL)
		if err != nil {
			b.logger.Warn("submission lock unavailable, continuing without it", zap.Error(err))
		} else if !ok {
			return Session{}, domain.ConflictError{Resource: "booking", Msg: "this booking is already being processed"}
		} else {
			defer release()
		}
	}

	pending := appointments.PendingRequest{IdempotencyKey: key, Amount: req.Amount, Details: req.Details}
	appt, existing, err := b.intake.CreatePending(ctx, pending)
	if err != nil {
		return Session{}, err
	}
	if existing && appt.GatewayRedirectURL != "" {
		if !b.sessionExpired(appt) {
			b.logger.Info("reusing open payment session", zap.String("short_reference", appt.ShortReference))
			return Session{RedirectURL: appt.GatewayRedirectURL, AppointmentID: appt.ID, ShortReference: appt.ShortReference, Reused: true}, nil
		}
		// A capture on the old session still lands on the expired record and is flagged for refund.
		b.logger.Info("payment session past gateway lifetime, opening a new one",
			zap.String("short_reference", appt.ShortReference), zap.String("payment_id", appt.GatewayPaymentID))
		if _, _, err := b.store.Cancel(ctx, appt.GatewayPaymentID, models.PaymentCanceled, models.CancelReasonExpired); err != nil {
			return Session{}, err
		}
		if appt, existing, err = b.intake.CreatePending(ctx, pending); err != nil {
			return Session{}, err
		}
		if existing && appt.GatewayRedirectURL != "" {
			return Session{RedirectURL: appt.GatewayRedirectURL, AppointmentID: appt.ID, ShortReference: appt.ShortReference, Reused: true}, nil
		}
	}

	log := b.logger.With(zap.String("appointment_id", appt.ID.String()), zap.String("short_reference", appt.ShortReference))
	tok, err := b.gateway.GrantToken(ctx)
	if err != nil {
		log.Error("grant token failed", zap.Error(err))
		return Session{}, err
	}
	created, err := b.gateway.CreatePayment(ctx, tok, bkash.CreatePaymentRequest{
		Amount:         appt.Price,
		PayerReference: appt.ClientPhone,
		Invoice:        appt.ShortReference,
		CallbackURL:    b.callbackURL,
	})
	if err != nil {
		log.Error("create payment failed", zap.Error(err))
		return Session{}, err
	}
	if err := b.store.AttachPayment(ctx, appt.ID, created.PaymentID, created.RedirectURL); err != nil {
		log.Error("attach payment id failed", zap.Error(err), zap.String("payment_id", created.PaymentID))
		return Session{}, err
	}

	log.Info("payment session opened", zap.String("payment_id", created.PaymentID))
	return Session{RedirectURL: created.RedirectURL, AppointmentID: appt.ID, ShortReference: appt.ShortReference}, nil
}

func (b *Bridge) sessionExpired(a *models.Appointment) bool {
	return b.sessionTTL > 0 && !a.UpdatedAt.IsZero() && time.Since(a.UpdatedAt) >= b.sessionTTL
}
