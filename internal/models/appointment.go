package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppointmentStatus is the booking lifecycle status.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "Pending"
	AppointmentScheduled AppointmentStatus = "Scheduled"
	AppointmentCompleted AppointmentStatus = "Completed"
	AppointmentCanceled  AppointmentStatus = "Canceled"
)

// Terminal reports whether no further transition is allowed out of the reconciler's reach.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentCompleted || s == AppointmentCanceled
}

// HoldsSlot reports whether the status blocks the counselor's date/time slot.
func (s AppointmentStatus) HoldsSlot() bool {
	return s == AppointmentScheduled || s == AppointmentCompleted
}

// PaymentStatus tracks the gateway-side outcome.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentCanceled  PaymentStatus = "Canceled"
)

// Cancel reasons recorded on Canceled appointments.
const (
	CancelReasonPaymentFailed   = "payment_failed"
	CancelReasonPaymentCanceled = "payment_canceled"
	CancelReasonSlotTaken       = "slot_taken"
	CancelReasonExpired         = "expired"
	CancelReasonOperator        = "operator"
)

// Appointment is a reservation of one counselor slot, tracked from intake to a terminal state.
type Appointment struct {
	ID                 uuid.UUID         `json:"id"`
	ShortReference     string            `json:"short_reference"`
	IdempotencyKey     string            `json:"-"`
	ClientName         string            `json:"client_name"`
	ClientEmail        string            `json:"client_email"`
	ClientPhone        string            `json:"client_phone"`
	CounselorID        string            `json:"counselor_id"`
	ServiceID          string            `json:"service_id"`
	Date               string            `json:"date"` // yyyy-MM-dd, opaque key
	Time               string            `json:"time"` // slot label
	BasePrice          decimal.Decimal   `json:"base_price"`
	Price              decimal.Decimal   `json:"price"`
	PromoCode          string            `json:"promo_code,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	GatewayPaymentID   string            `json:"gateway_payment_id,omitempty"`
	GatewayRedirectURL string            `json:"-"`
	TrxID              string            `json:"trx_id,omitempty"`
	PayerMsisdn        string            `json:"payer_msisdn,omitempty"`
	Status             AppointmentStatus `json:"status"`
	PaymentStatus      PaymentStatus     `json:"payment_status"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}
