package analytics

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wellbeing-clinic/booking/pkg/database"
)

// Filter narrows the summary. Dates are yyyy-MM-dd slot dates, inclusive; empty means unbounded.
type Filter struct {
	CounselorID string
	From        string
	To          string
}

// Summary aggregates appointments for the operator dashboard.
type Summary struct {
	Total          int             `json:"total"`
	Pending        int             `json:"pending"`
	Scheduled      int             `json:"scheduled"`
	Completed      int             `json:"completed"`
	Canceled       int             `json:"canceled"`
	Expired        int             `json:"expired"`
	PaymentFailed  int             `json:"payment_failed"`
	RefundsDue     int             `json:"refunds_due"`
	PromoBookings  int             `json:"promo_bookings"`
	Revenue        decimal.Decimal `json:"revenue"`
	Discounts      decimal.Decimal `json:"discounts"`
	ConversionRate *float64        `json:"conversion_rate,omitempty"`
}

// Repository runs the summary query.
type Repository struct {
	db database.DB
}

// NewRepository creates an analytics repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const summaryQuery = `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'Pending'),
	COUNT(*) FILTER (WHERE status = 'Scheduled'),
	COUNT(*) FILTER (WHERE status = 'Completed'),
	COUNT(*) FILTER (WHERE status = 'Canceled'),
	COUNT(*) FILTER (WHERE cancel_reason = 'expired'),
	COUNT(*) FILTER (WHERE payment_status = 'Failed'),
	COUNT(*) FILTER (WHERE status = 'Canceled' AND payment_status = 'Completed'),
	COUNT(*) FILTER (WHERE promo_code IS NOT NULL AND status IN ('Scheduled', 'Completed')),
	COALESCE(SUM(price) FILTER (WHERE status IN ('Scheduled', 'Completed')), 0)::text,
	COALESCE(SUM(base_price - price) FILTER (WHERE status IN ('Scheduled', 'Completed')), 0)::text
FROM appointments
WHERE ($1 = '' OR counselor_id = $1)
	AND ($2 = '' OR slot_date >= $2)
	AND ($3 = '' OR slot_date <= $3)`

// Summary aggregates appointments matching f.
func (r *Repository) Summary(ctx context.Context, f Filter) (*Summary, error) {
	var (
		s                  Summary
		revenue, discounts string
	)
	err := r.db.QueryRow(ctx, summaryQuery, f.CounselorID, f.From, f.To).Scan(
		&s.Total, &s.Pending, &s.Scheduled, &s.Completed, &s.Canceled,
		&s.Expired, &s.PaymentFailed, &s.RefundsDue, &s.PromoBookings,
		&revenue, &discounts,
	)
	if err != nil {
		return nil, fmt.Errorf("appointment summary: %w", err)
	}
	if s.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, fmt.Errorf("parse revenue: %w", err)
	}
	if s.Discounts, err = decimal.NewFromString(discounts); err != nil {
		return nil, fmt.Errorf("parse discounts: %w", err)
	}
	// Pending checkouts have not finished yet and do not count against conversion.
	if settled := s.Total - s.Pending; settled > 0 {
		rate := float64(s.Scheduled+s.Completed) / float64(settled)
		s.ConversionRate = &rate
	}
	return &s, nil
}
