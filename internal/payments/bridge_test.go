package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
)

func TestOpenSessionRecordsPendingBeforeGateway(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	b := newTestBridge(store, gw, nil)

	s, err := b.OpenSession(context.Background(), SessionRequest{IdempotencyKey: "k-1", Amount: "1500", Details: bookingDetails()})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if !strings.Contains(s.RedirectURL, "TR001") {
		t.Fatalf("redirect = %q", s.RedirectURL)
	}
	a := store.get(s.AppointmentID)
	if a.Status != models.AppointmentPending || a.GatewayPaymentID != "TR001" {
		t.Fatalf("appointment = %s payment=%q", a.Status, a.GatewayPaymentID)
	}
	if len(gw.created) != 1 {
		t.Fatalf("create calls = %d", len(gw.created))
	}
	req := gw.created[0]
	if req.Invoice != a.ShortReference || req.PayerReference != "01770618575" || req.CallbackURL != "http://clinic.test/api/payment/callback" {
		t.Errorf("create request = %+v", req)
	}
	if !req.Amount.Equal(a.Price) {
		t.Errorf("amount = %s, price %s", req.Amount, a.Price)
	}
}

func TestOpenSessionReusesOpenSession(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	b := newTestBridge(store, gw, nil)
	req := SessionRequest{Details: bookingDetails()}

	first, err := b.OpenSession(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := b.OpenSession(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Reused || second.RedirectURL != first.RedirectURL || second.AppointmentID != first.AppointmentID {
		t.Fatalf("second = %+v, first = %+v", second, first)
	}
	if len(gw.created) != 1 {
		t.Fatalf("gateway sessions opened = %d, want 1", len(gw.created))
	}
}

func TestOpenSessionReplacesExpiredGatewaySession(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	b := newTestBridge(store, gw, nil)
	req := SessionRequest{Details: bookingDetails()}

	first, err := b.OpenSession(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	store.mu.Lock()
	store.appts[first.AppointmentID].UpdatedAt = time.Now().Add(-11 * time.Minute)
	store.mu.Unlock()

	second, err := b.OpenSession(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Reused || second.AppointmentID == first.AppointmentID || second.RedirectURL == first.RedirectURL {
		t.Fatalf("second = %+v, first = %+v", second, first)
	}
	if len(gw.created) != 2 {
		t.Fatalf("gateway sessions opened = %d, want 2", len(gw.created))
	}
	old := store.get(first.AppointmentID)
	if old.Status != models.AppointmentCanceled || old.CancelReason != models.CancelReasonExpired || old.GatewayPaymentID != "TR001" {
		t.Fatalf("old appointment = %s/%s payment=%q", old.Status, old.CancelReason, old.GatewayPaymentID)
	}
	if got := store.get(second.AppointmentID); got.Status != models.AppointmentPending || got.GatewayPaymentID != "TR002" {
		t.Fatalf("new appointment = %s payment=%q", got.Status, got.GatewayPaymentID)
	}
}

func TestOpenSessionGatewayAuthFailureLeavesUnpaidPending(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{grantErr: domain.GatewayAuthError{Err: context.DeadlineExceeded}}
	b := newTestBridge(store, gw, nil)

	_, err := b.OpenSession(context.Background(), SessionRequest{IdempotencyKey: "k-2", Details: bookingDetails()})
	if !domain.IsGatewayAuth(err) {
		t.Fatalf("err = %v, want gateway auth error", err)
	}
	if len(store.appts) != 1 {
		t.Fatalf("appointments = %d", len(store.appts))
	}
	for _, a := range store.appts {
		if a.Status != models.AppointmentPending || a.GatewayPaymentID != "" {
			t.Errorf("appointment = %s payment=%q", a.Status, a.GatewayPaymentID)
		}
	}
}

func TestOpenSessionRejectsConcurrentDuplicate(t *testing.T) {
	store := newMemStore()
	b := newTestBridge(store, &fakeGateway{}, stubLocker{held: true})

	_, err := b.OpenSession(context.Background(), SessionRequest{IdempotencyKey: "k-3", Details: bookingDetails()})
	if !domain.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if len(store.appts) != 0 {
		t.Fatalf("appointments = %d, want none", len(store.appts))
	}
}

func TestOpenSessionValidationCreatesNothing(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	d := bookingDetails()
	d.Email = "not-an-email"
	_, err := newTestBridge(store, gw, nil).OpenSession(context.Background(), SessionRequest{Details: d})
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if len(store.appts) != 0 || len(gw.created) != 0 {
		t.Fatalf("appointments=%d sessions=%d", len(store.appts), len(gw.created))
	}
}

func TestDeriveIdempotencyKeyIgnoresCaseAndSpace(t *testing.T) {
	a := bookingDetails()
	b := bookingDetails()
	b.Email = "  RAHIM@example.com "
	if DeriveIdempotencyKey(a) != DeriveIdempotencyKey(b) {
		t.Fatal("keys differ for the same submission")
	}
	b.Time = "11:00 AM"
	if DeriveIdempotencyKey(a) == DeriveIdempotencyKey(b) {
		t.Fatal("keys equal for different slots")
	}
}
