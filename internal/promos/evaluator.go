package promos

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
)

// Reason explains why a code was rejected.
type Reason string

const (
	ReasonNotFound     Reason = "NotFound"
	ReasonInactive     Reason = "Inactive"
	ReasonExpired      Reason = "Expired"
	ReasonLimitReached Reason = "LimitReached"
)

var hundred = decimal.NewFromInt(100)

// Discount is the type and value of an accepted code.
type Discount struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Result is the outcome of Validate. Discount is set only when Valid.
type Result struct {
	Valid    bool      `json:"valid"`
	Code     string    `json:"code"`
	Discount *Discount `json:"discount,omitempty"`
	Reason   Reason    `json:"reason,omitempty"`
}

// Store reads promo codes.
type Store interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
}

// Evaluator validates promo codes against the active, expiry and usage rules.
type Evaluator struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewEvaluator creates a promo code evaluator.
func NewEvaluator(store Store, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{store: store, now: time.Now, logger: logger}
}

// Normalize uppercases code and strips all whitespace.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// Validate checks code. The error is non-nil only when the store could not be read.
// It never changes timesUsed.
func (e *Evaluator) Validate(ctx context.Context, code string) (Result, error) {
	code = Normalize(code)
	res := Result{Code: code}
	if code == "" {
		res.Reason = ReasonNotFound
		return res, nil
	}
	p, err := e.store.GetByCode(ctx, code)
	if err != nil {
		if domain.IsNotFound(err) {
			res.Reason = ReasonNotFound
			return res, nil
		}
		e.logger.Error("load promo code failed", zap.Error(err), zap.String("code", code))
		return res, err
	}
	switch {
	case p.ExpiresAt != nil && p.ExpiresAt.Before(e.now()):
		res.Reason = ReasonExpired
	case !p.IsActive:
		res.Reason = ReasonInactive
	case p.UsageLimit != nil && p.TimesUsed >= *p.UsageLimit:
		res.Reason = ReasonLimitReached
	default:
		res.Valid = true
		res.Discount = &Discount{Type: p.DiscountType, Value: p.DiscountValue}
	}
	return res, nil
}

// ApplyDiscount returns base reduced by d, rounded to cents and never below zero.
func ApplyDiscount(base decimal.Decimal, d Discount) decimal.Decimal {
	var final decimal.Decimal
	switch d.Type {
	case models.DiscountPercentage:
		final = base.Sub(base.Mul(d.Value).Div(hundred))
	case models.DiscountFixed:
		final = base.Sub(d.Value)
	default:
		final = base
	}
	if final.IsNegative() {
		return decimal.Zero
	}
	return final.Round(2)
}
