package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/internal/payments/bkash"
	"github.com/wellbeing-clinic/booking/internal/promos"
)

var testLabels = []string{"10:00 AM", "11:00 AM", "12:00 PM"}

// memStore keeps appointments in memory with the same conditional transitions
// and active-slot uniqueness as the Postgres repository.
type memStore struct {
	mu          sync.Mutex
	appts       map[uuid.UUID]*models.Appointment
	promoUses   map[string]int
	promoLimits map[string]int
	failQuery   bool
}

func newMemStore() *memStore {
	return &memStore{appts: make(map[uuid.UUID]*models.Appointment), promoUses: make(map[string]int), promoLimits: make(map[string]int)}
}

func (m *memStore) Create(_ context.Context, a *models.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.appts {
		if x.Status == models.AppointmentPending && x.IdempotencyKey == a.IdempotencyKey {
			return appointments.ErrDuplicatePending
		}
	}
	a.ID = uuid.New()
	a.Status = models.AppointmentPending
	a.PaymentStatus = models.PaymentPending
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

// seed inserts a Pending appointment with a payment id, skipping intake checks.
func (m *memStore) seed(paymentID, counselor, date, slot string, createdAt time.Time) *models.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &models.Appointment{
		ID:               uuid.New(),
		ShortReference:   "WBC-" + fmt.Sprintf("%08d", len(m.appts)+1),
		IdempotencyKey:   uuid.NewString(),
		ClientName:       "Rahim",
		ClientEmail:      "rahim@example.com",
		ClientPhone:      "01700000000",
		CounselorID:      counselor,
		ServiceID:        "svc-1",
		Date:             date,
		Time:             slot,
		BasePrice:        decimal.NewFromInt(1500),
		Price:            decimal.NewFromInt(1500),
		GatewayPaymentID: paymentID,
		Status:           models.AppointmentPending,
		PaymentStatus:    models.PaymentPending,
		CreatedAt:        createdAt,
	}
	m.appts[a.ID] = a
	cp := *a
	return &cp
}

func (m *memStore) get(id uuid.UUID) models.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.appts[id]
}

func (m *memStore) byPayment(paymentID string) *models.Appointment {
	for _, a := range m.appts {
		if paymentID != "" && a.GatewayPaymentID == paymentID {
			return a
		}
	}
	return nil
}

func (m *memStore) GetPendingByIdempotencyKey(_ context.Context, key string) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.Status == models.AppointmentPending && a.IdempotencyKey == key {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.NotFoundError{Resource: "appointment", Msg: "not found"}
}

func (m *memStore) SlotTaken(_ context.Context, counselorID, date, slot string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotHeld(counselorID, date, slot, uuid.Nil), nil
}

func (m *memStore) slotHeld(counselorID, date, slot string, except uuid.UUID) bool {
	for _, a := range m.appts {
		if a.ID != except && a.Status.HoldsSlot() && a.CounselorID == counselorID && a.Date == date && a.Time == slot {
			return true
		}
	}
	return false
}

func (m *memStore) BookedSlots(_ context.Context, counselorID string) ([]appointments.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []appointments.Slot
	for _, a := range m.appts {
		if a.CounselorID == counselorID && a.Status.HoldsSlot() {
			out = append(out, appointments.Slot{Date: a.Date, Time: a.Time})
		}
	}
	return out, nil
}

func (m *memStore) AttachPayment(_ context.Context, id uuid.UUID, paymentID, redirectURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != models.AppointmentPending || a.GatewayPaymentID != "" {
		return domain.ConflictError{Resource: "appointment", Msg: "not pending"}
	}
	a.GatewayPaymentID = paymentID
	a.GatewayRedirectURL = redirectURL
	a.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) GetByPaymentID(_ context.Context, paymentID string) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byPayment(paymentID)
	if a == nil {
		return nil, domain.NotFoundError{Resource: "appointment", Msg: "payment session expired or invalid"}
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) Confirm(_ context.Context, paymentID string, rc appointments.Receipt) (*models.Appointment, appointments.ConfirmOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byPayment(paymentID)
	if a == nil {
		return nil, 0, domain.NotFoundError{Resource: "appointment", Msg: "payment session expired or invalid"}
	}
	if a.Status != models.AppointmentPending {
		if a.Status == models.AppointmentCanceled && a.PaymentStatus != models.PaymentCompleted {
			a.PaymentStatus = models.PaymentCompleted
			a.TrxID, a.PayerMsisdn = rc.TrxID, rc.PayerMsisdn
			cp := *a
			return &cp, appointments.LateCapture, nil
		}
		cp := *a
		return &cp, appointments.AlreadyFinal, nil
	}
	a.TrxID, a.PayerMsisdn = rc.TrxID, rc.PayerMsisdn
	if m.slotHeld(a.CounselorID, a.Date, a.Time, a.ID) {
		a.Status = models.AppointmentCanceled
		a.PaymentStatus = models.PaymentCompleted
		a.CancelReason = models.CancelReasonSlotTaken
		cp := *a
		return &cp, appointments.SlotTaken, nil
	}
	a.Status = models.AppointmentScheduled
	a.PaymentStatus = models.PaymentCompleted
	outcome := appointments.Confirmed
	if a.PromoCode != "" {
		if limit, ok := m.promoLimits[a.PromoCode]; ok && m.promoUses[a.PromoCode] >= limit {
			outcome = appointments.ConfirmedOverPromoLimit
		} else {
			m.promoUses[a.PromoCode]++
		}
	}
	cp := *a
	return &cp, outcome, nil
}

func (m *memStore) Cancel(_ context.Context, paymentID string, ps models.PaymentStatus, reason string) (*models.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byPayment(paymentID)
	if a == nil {
		return nil, false, domain.NotFoundError{Resource: "appointment", Msg: "payment session expired or invalid"}
	}
	if a.Status != models.AppointmentPending {
		cp := *a
		return &cp, false, nil
	}
	a.Status, a.PaymentStatus, a.CancelReason = models.AppointmentCanceled, ps, reason
	cp := *a
	return &cp, true, nil
}

func (m *memStore) CancelUnpaid(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != models.AppointmentPending {
		return false, nil
	}
	a.Status, a.PaymentStatus, a.CancelReason = models.AppointmentCanceled, models.PaymentCanceled, reason
	return true, nil
}

func (m *memStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failQuery {
		return nil, errors.New("connection refused")
	}
	var out []*models.Appointment
	for _, a := range m.appts {
		if a.Status == models.AppointmentPending && a.CreatedAt.Before(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeGateway answers gateway calls from per-payment scripted results.
type fakeGateway struct {
	mu           sync.Mutex
	grantErr     error
	createErr    error
	executeFn    func(paymentID string) (bkash.ExecuteResult, error)
	queryFn      func(paymentID string) (bkash.ExecuteResult, error)
	created      []bkash.CreatePaymentRequest
	executeCalls int
	queryCalls   int
}

func (g *fakeGateway) GrantToken(context.Context) (bkash.Token, error) {
	if g.grantErr != nil {
		return bkash.Token{}, g.grantErr
	}
	return bkash.Token{IDToken: "tok", ExpiresIn: 3600}, nil
}

func (g *fakeGateway) CreatePayment(_ context.Context, _ bkash.Token, req bkash.CreatePaymentRequest) (bkash.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return bkash.CreatePaymentResult{}, g.createErr
	}
	g.created = append(g.created, req)
	id := fmt.Sprintf("TR00%d", len(g.created))
	return bkash.CreatePaymentResult{PaymentID: id, RedirectURL: "https://sandbox.payment.bkash.com/?paymentId=" + id}, nil
}

func (g *fakeGateway) ExecutePayment(_ context.Context, _ bkash.Token, paymentID string) (bkash.ExecuteResult, error) {
	g.mu.Lock()
	g.executeCalls++
	fn := g.executeFn
	g.mu.Unlock()
	if fn == nil {
		return completed(paymentID), nil
	}
	return fn(paymentID)
}

func (g *fakeGateway) QueryPayment(_ context.Context, _ bkash.Token, paymentID string) (bkash.ExecuteResult, error) {
	g.mu.Lock()
	g.queryCalls++
	fn := g.queryFn
	g.mu.Unlock()
	if fn == nil {
		return bkash.PaymentNotExecuted{PaymentID: paymentID, TransactionStatus: "Initiated"}, nil
	}
	return fn(paymentID)
}

func (g *fakeGateway) calls() (execute, query int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executeCalls, g.queryCalls
}

func completed(paymentID string) bkash.PaymentCompleted {
	return bkash.PaymentCompleted{
		PaymentID:         paymentID,
		TrxID:             "TRX-" + paymentID,
		CustomerMsisdn:    "01770618575",
		Amount:            "1500.00",
		TransactionStatus: "Completed",
		Raw:               []byte(`{"statusCode":"0000","transactionStatus":"Completed"}`),
	}
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *countingNotifier) SendBookingConfirmation(_ context.Context, a *models.Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a.ShortReference)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type memArchive struct {
	mu       sync.Mutex
	receipts map[string][]byte
}

func (a *memArchive) ArchiveReceipt(_ context.Context, paymentID string, raw []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.receipts == nil {
		a.receipts = make(map[string][]byte)
	}
	a.receipts[paymentID] = raw
	return nil
}

type noPromos struct{}

func (noPromos) Validate(_ context.Context, code string) (promos.Result, error) {
	return promos.Result{Valid: false, Code: code, Reason: promos.ReasonNotFound}, nil
}

type stubLocker struct{ held bool }

func (l stubLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func newTestBridge(store *memStore, gw *fakeGateway, locker Locker) *Bridge {
	intake := appointments.NewIntake(store, noPromos{}, appointments.NewAvailability(store, testLabels, nil), "WBC-", nil)
	return NewBridge(intake, store, gw, locker, time.Minute, 10*time.Minute, "http://clinic.test/api/payment/callback", nil)
}

func bookingDetails() appointments.BookingDetails {
	return appointments.BookingDetails{
		Name:        "Rahim Uddin",
		Email:       "rahim@example.com",
		Phone:       "01770618575",
		CounselorID: "c-1",
		ServiceID:   "svc-1",
		Date:        "2026-11-02",
		Time:        "10:00 AM",
		Price:       "1500",
	}
}
