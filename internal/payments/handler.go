package payments

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/appointments"
	"github.com/wellbeing-clinic/booking/internal/domain"
	"github.com/wellbeing-clinic/booking/pkg/response"
)

// IdempotencyHeader carries the client's checkout submission key.
const IdempotencyHeader = "Idempotency-Key"

// SessionOpener opens checkout sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, req SessionRequest) (Session, error)
}

// CallbackReconciler settles gateway callbacks.
type CallbackReconciler interface {
	Reconcile(ctx context.Context, paymentID, clientStatus string) (Outcome, error)
}

// Handler serves the checkout and callback endpoints.
type Handler struct {
	bridge      SessionOpener
	reconciler  CallbackReconciler
	frontendURL string
	logger      *zap.Logger
}

// NewHandler creates a payments handler. frontendURL is where browsers land after the gateway.
func NewHandler(bridge SessionOpener, reconciler CallbackReconciler, frontendURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bridge: bridge, reconciler: reconciler, frontendURL: strings.TrimRight(frontendURL, "/"), logger: logger}
}

// CreateRequest is the body of POST /api/create.
type CreateRequest struct {
	Amount         string                      `json:"amount"`
	PayerName      string                      `json:"name"`
	BookingDetails appointments.BookingDetails `json:"bookingDetails"`
}

// CallbackRequest is the body of POST /api/callback.
type CallbackRequest struct {
	PaymentID string `json:"paymentID"`
	Status    string `json:"status"`
}

// Create handles POST /api/create. It answers {redirectUrl} for the hosted checkout page.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.bridge.OpenSession(c.Request.Context(), SessionRequest{
		IdempotencyKey: strings.TrimSpace(c.GetHeader(IdempotencyHeader)),
		Amount:         req.Amount,
		PayerName:      req.PayerName,
		Details:        req.BookingDetails,
	})
	if err != nil {
		if !domain.IsValidation(err) && !domain.IsConflict(err) {
			h.logger.Error("open payment session failed", zap.Error(err))
		}
		response.DomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redirectUrl":    session.RedirectURL,
		"appointmentId":  session.AppointmentID.String(),
		"shortReference": session.ShortReference,
	})
}

// Callback handles POST /api/callback. A confirmed booking answers 200; a declined or canceled one 402.
func (h *Handler) Callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PaymentID) == "" {
		response.BadRequest(c, "paymentID is required")
		return
	}
	out, err := h.reconciler.Reconcile(c.Request.Context(), req.PaymentID, req.Status)
	if err != nil {
		response.DomainError(c, err)
		return
	}
	if !out.Success {
		c.JSON(http.StatusPaymentRequired, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

// BrowserCallback handles GET /api/payment/callback, where the gateway sends the payer back.
// It reconciles and redirects the browser to the confirmation or failure page.
func (h *Handler) BrowserCallback(c *gin.Context) {
	paymentID := strings.TrimSpace(c.Query("paymentID"))
	if paymentID == "" {
		c.Redirect(http.StatusFound, h.failureURL("invalid"))
		return
	}
	out, err := h.reconciler.Reconcile(c.Request.Context(), paymentID, c.Query("status"))
	if err != nil {
		h.logger.Warn("browser callback not reconciled", zap.String("payment_id", paymentID), zap.Error(err))
		c.Redirect(http.StatusFound, h.failureURL("pending"))
		return
	}
	if !out.Success {
		c.Redirect(http.StatusFound, h.failureURL("failed"))
		return
	}
	q := url.Values{}
	q.Set("appointmentId", out.AppointmentID)
	q.Set("ref", out.ShortReference)
	c.Redirect(http.StatusFound, h.frontendURL+"/booking/confirmation?"+q.Encode())
}

func (h *Handler) failureURL(state string) string {
	return h.frontendURL + "/booking?payment=" + url.QueryEscape(state)
}
