package appointments

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/response"
	"github.com/wellbeing-clinic/booking/pkg/storage"
)

// Handler handles appointment HTTP endpoints: public availability and operator actions.
type Handler struct {
	repo         *Repository
	availability *Availability
	receipts     ReceiptLinker
	logger       *zap.Logger
}

// ReceiptLinker presigns archived gateway receipts.
type ReceiptLinker interface {
	ReceiptURL(ctx context.Context, paymentID string) (string, error)
}

// NewHandler creates an appointments handler. receipts may be nil.
func NewHandler(repo *Repository, availability *Availability, receipts ReceiptLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, availability: availability, receipts: receipts, logger: logger}
}

// BookedSlots handles GET /api/counselors/:id/booked-slots.
func (h *Handler) BookedSlots(c *gin.Context) {
	counselorID := c.Param("id")
	if counselorID == "" {
		response.BadRequest(c, "counselor id required")
		return
	}
	response.OK(c, h.availability.BookedSlots(c.Request.Context(), counselorID))
}

// FreeSlots handles GET /api/counselors/:id/availability?date=yyyy-MM-dd.
func (h *Handler) FreeSlots(c *gin.Context) {
	date := c.Query("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		response.BadRequest(c, "date must be yyyy-MM-dd")
		return
	}
	response.OK(c, gin.H{
		"date":  date,
		"slots": h.availability.FreeSlots(c.Request.Context(), c.Param("id"), date),
	})
}

// List handles GET /api/admin/appointments?status=&counselorId=&limit=.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{
		Status:      models.AppointmentStatus(c.Query("status")),
		CounselorID: c.Query("counselorId"),
	}
	switch f.Status {
	case "", models.AppointmentPending, models.AppointmentScheduled, models.AppointmentCompleted, models.AppointmentCanceled:
	default:
		response.BadRequest(c, "unknown status")
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "limit must be a number")
			return
		}
		f.Limit = n
	}
	if scope := auth.CounselorScope(c); scope != "" {
		f.CounselorID = scope
	}
	list, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list appointments failed", zap.Error(err))
		response.Internal(c, "failed to load appointments")
		return
	}
	response.OK(c, list)
}

// Get handles GET /api/admin/appointments/:id, where :id is the appointment id or its short reference.
func (h *Handler) Get(c *gin.Context) {
	a, err := h.lookup(c)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	response.OK(c, a)
}

// Receipt handles GET /api/admin/appointments/:id/receipt. It answers a short-lived link to the archived gateway receipt.
func (h *Handler) Receipt(c *gin.Context) {
	if h.receipts == nil {
		response.NotFound(c, "receipt archive is not configured")
		return
	}
	a, err := h.lookup(c)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	if a.GatewayPaymentID == "" || a.Status == models.AppointmentPending {
		response.NotFound(c, "no receipt for this appointment")
		return
	}
	url, err := h.receipts.ReceiptURL(c.Request.Context(), a.GatewayPaymentID)
	if err != nil {
		h.logger.Error("presign receipt failed", zap.Error(err), zap.String("payment_id", a.GatewayPaymentID))
		response.Internal(c, "failed to load receipt")
		return
	}
	response.OK(c, gin.H{"url": url, "expiresIn": int(storage.ReceiptURLExpiry.Seconds())})
}

// lookup loads the appointment named by :id. Counselors only see their own appointments.
func (h *Handler) lookup(c *gin.Context) (*models.Appointment, error) {
	key := c.Param("id")
	var (
		a   *models.Appointment
		err error
	)
	if id, perr := uuid.Parse(key); perr == nil {
		a, err = h.repo.GetByID(c.Request.Context(), id)
	} else {
		a, err = h.repo.GetByShortReference(c.Request.Context(), strings.ToUpper(key))
	}
	if err != nil {
		return nil, err
	}
	if scope := auth.CounselorScope(c); scope != "" && a.CounselorID != scope {
		return nil, domain.NotFoundError{Resource: "appointment"}
	}
	return a, nil
}

// Complete handles PATCH /api/admin/appointments/:id/complete.
func (h *Handler) Complete(c *gin.Context) {
	cur, err := h.lookup(c)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	a, err := h.repo.Complete(c.Request.Context(), cur.ID)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	h.logger.Info("appointment completed", zap.String("appointment_id", a.ID.String()))
	response.OK(c, a)
}

// Cancel handles PATCH /api/admin/appointments/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	cur, err := h.lookup(c)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	a, err := h.repo.CancelScheduled(c.Request.Context(), cur.ID)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	h.logger.Info("appointment canceled by operator", zap.String("appointment_id", a.ID.String()))
	response.OK(c, a)
}
