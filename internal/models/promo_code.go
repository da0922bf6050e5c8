package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Promo discount types.
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// PromoCode is a discount code applied at booking time.
type PromoCode struct {
	Code          string          `json:"code"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	IsActive      bool            `json:"is_active"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	UsageLimit    *int            `json:"usage_limit,omitempty"`
	TimesUsed     int             `json:"times_used"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
