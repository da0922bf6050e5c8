package promos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/database"
)

// Repository handles promo code reads. Usage is counted by the appointment confirmation transaction.
type Repository struct {
	db database.DB
}

// NewRepository creates a promo codes repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// GetByCode returns the promo code with the given normalized code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	const q = `SELECT code, discount_type, discount_value::text, is_active, expires_at, usage_limit, times_used, created_at, updated_at
		FROM promo_codes WHERE code = $1`
	var p models.PromoCode
	var value string
	err := r.db.QueryRow(ctx, q, code).Scan(&p.Code, &p.DiscountType, &value, &p.IsActive, &p.ExpiresAt, &p.UsageLimit, &p.TimesUsed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundError{Resource: "promo code", Err: err}
		}
		return nil, err
	}
	if p.DiscountValue, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse discount_value: %w", err)
	}
	return &p, nil
}
