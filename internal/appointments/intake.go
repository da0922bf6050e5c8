package appointments

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/internal/promos"
)

const maxReferenceAttempts = 5

// BookingDetails is the candidate booking submitted by the client.
type BookingDetails struct {
	Name        string `json:"name" validate:"required,max=120"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone" validate:"required,max=32"`
	CounselorID string `json:"counselorId" validate:"required,max=64"`
	ServiceID   string `json:"serviceId" validate:"required,max=64"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required"`
	Price       string `json:"price" validate:"required"`
	PromoCode   string `json:"promoCode,omitempty" validate:"max=64"`
	Notes       string `json:"notes,omitempty" validate:"max=2000"`
}

// PendingRequest carries the booking plus checkout metadata.
type PendingRequest struct {
	IdempotencyKey string
	Amount         string // optional client-computed total; must match the server price when set
	Details        BookingDetails
}

// IntakeStore is the persistence Intake needs.
type IntakeStore interface {
	Create(ctx context.Context, a *models.Appointment) error
	GetPendingByIdempotencyKey(ctx context.Context, key string) (*models.Appointment, error)
	SlotTaken(ctx context.Context, counselorID, date, slotTime string) (bool, error)
}

// PromoValidator checks promo codes.
type PromoValidator interface {
	Validate(ctx context.Context, code string) (promos.Result, error)
}

// Intake validates bookings and writes Pending appointments before any payment session exists.
type Intake struct {
	store    IntakeStore
	promos   PromoValidator
	slots    *Availability
	prefix   string
	validate *validator.Validate
	logger   *zap.Logger
}

// NewIntake creates the booking intake.
func NewIntake(store IntakeStore, promoValidator PromoValidator, slots *Availability, referencePrefix string, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Intake{store: store, promos: promoValidator, slots: slots, prefix: referencePrefix, validate: v, logger: logger}
}

// CreatePending validates req and stores a Pending appointment. When a Pending appointment already
// holds req.IdempotencyKey it is returned instead and existing is true.
func (in *Intake) CreatePending(ctx context.Context, req PendingRequest) (a *models.Appointment, existing bool, err error) {
	if req.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("idempotency key required")
	}
	if prev, err := in.store.GetPendingByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return prev, true, nil
	} else if !domain.IsNotFound(err) {
		return nil, false, domain.StoreWriteError{Op: "lookup idempotency key", Err: err}
	}

	d := normalizeDetails(req.Details)
	base, fields := in.check(d)
	if len(fields) > 0 {
		return nil, false, domain.ValidationError{Fields: fields}
	}

	final := base.Round(2)
	var promoCode string
	if d.PromoCode != "" {
		res, err := in.promos.Validate(ctx, d.PromoCode)
		if err != nil {
			return nil, false, fmt.Errorf("validate promo code: %w", err)
		}
		if !res.Valid {
			return nil, false, domain.NewValidationError("promoCode", promoMessage(res.Reason))
		}
		promoCode = res.Code
		final = promos.ApplyDiscount(base, *res.Discount)
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil || !amount.Equal(final) {
			return nil, false, domain.NewValidationError("amount", "does not match the booking price "+final.StringFixed(2))
		}
	}

	taken, err := in.store.SlotTaken(ctx, d.CounselorID, d.Date, d.Time)
	if err != nil {
		return nil, false, domain.StoreWriteError{Op: "check slot", Err: err}
	}
	if taken {
		return nil, false, domain.ConflictError{Resource: "slot", Msg: "this time slot has already been booked"}
	}

	a = &models.Appointment{
		IdempotencyKey: req.IdempotencyKey,
		ClientName:     d.Name,
		ClientEmail:    d.Email,
		ClientPhone:    d.Phone,
		CounselorID:    d.CounselorID,
		ServiceID:      d.ServiceID,
		Date:           d.Date,
		Time:           d.Time,
		BasePrice:      base.Round(2),
		Price:          final,
		PromoCode:      promoCode,
		Notes:          d.Notes,
	}
	for attempt := 1; ; attempt++ {
		a.ShortReference, err = NewShortReference(in.prefix)
		if err != nil {
			return nil, false, err
		}
		err = in.store.Create(ctx, a)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, ErrShortReferenceTaken) && attempt < maxReferenceAttempts:
			in.logger.Warn("short reference collision, regenerating", zap.String("short_reference", a.ShortReference))
			continue
		case errors.Is(err, ErrDuplicatePending):
			prev, getErr := in.store.GetPendingByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, false, domain.StoreWriteError{Op: "lookup idempotency key", Err: getErr}
			}
			return prev, true, nil
		case errors.Is(err, ErrShortReferenceTaken):
			return nil, false, domain.StoreWriteError{Op: "insert appointment", Err: err}
		}
		in.logger.Error("create pending appointment failed", zap.Error(err), zap.String("counselor_id", d.CounselorID))
		return nil, false, err
	}

	in.logger.Info("pending appointment created",
		zap.String("appointment_id", a.ID.String()),
		zap.String("short_reference", a.ShortReference),
		zap.String("price", a.Price.StringFixed(2)),
	)
	return a, false, nil
}

// check returns the parsed base price and per-field problems.
func (in *Intake) check(d BookingDetails) (decimal.Decimal, map[string]string) {
	fields := make(map[string]string)
	if err := in.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			fields["booking"] = "invalid booking details"
			return decimal.Zero, fields
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
	}
	if _, bad := fields["time"]; !bad && d.Time != "" && !in.slots.IsLabel(d.Time) {
		fields["time"] = "is not an offered time slot"
	}
	var base decimal.Decimal
	if _, bad := fields["price"]; !bad {
		p, err := decimal.NewFromString(d.Price)
		switch {
		case err != nil:
			fields["price"] = "must be a number"
		case p.IsNegative():
			fields["price"] = "must not be negative"
		default:
			base = p
		}
	}
	return base, fields
}

func normalizeDetails(d BookingDetails) BookingDetails {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	d.Phone = strings.TrimSpace(d.Phone)
	d.CounselorID = strings.TrimSpace(d.CounselorID)
	d.ServiceID = strings.TrimSpace(d.ServiceID)
	d.Date = strings.TrimSpace(d.Date)
	d.Time = strings.TrimSpace(d.Time)
	d.Price = strings.TrimSpace(d.Price)
	d.PromoCode = strings.TrimSpace(d.PromoCode)
	d.Notes = strings.TrimSpace(d.Notes)
	return d
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be a date in yyyy-MM-dd format"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

func promoMessage(r promos.Reason) string {
	switch r {
	case promos.ReasonExpired:
		return "promo code has expired"
	case promos.ReasonInactive:
		return "promo code is not active"
	case promos.ReasonLimitReached:
		return "promo code usage limit reached"
	default:
		return "promo code not found"
	}
}
