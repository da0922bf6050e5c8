package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wellbeing-clinic/booking/internal/models"
)

func TestFromAppointment(t *testing.T) {
	confirmed := time.Date(2026, 11, 2, 10, 5, 0, 0, time.FixedZone("BST", 6*3600))
	a := &models.Appointment{
		ID:             uuid.New(),
		ShortReference: "WBC-AB12CD34",
		CounselorID:    "c-1",
		ServiceID:      "svc-1",
		Date:           "2026-11-09",
		Time:           "10:00 AM",
		ClientEmail:    "rahim@example.com",
		Price:          decimal.RequireFromString("1350"),
		PromoCode:      "WELCOME10",
		TrxID:          "BFD90JRLST",
		UpdatedAt:      confirmed,
	}
	e := FromAppointment(a)
	if e.Amount != "1350.00" || e.AppointmentID != a.ID.String() || e.TrxID != "BFD90JRLST" {
		t.Fatalf("event = %+v", e)
	}
	if !e.ConfirmedAt.Equal(confirmed) || e.ConfirmedAt.Location() != time.UTC {
		t.Fatalf("ConfirmedAt = %v", e.ConfirmedAt)
	}
}

func TestDisabledPublisherDropsEvents(t *testing.T) {
	p := NewPublisher("", nil)
	if p.Enabled() {
		t.Fatal("publisher without URL reports enabled")
	}
	if err := p.PublishBookingConfirmed(context.Background(), BookingConfirmed{AppointmentID: "a-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p.Close()
}
