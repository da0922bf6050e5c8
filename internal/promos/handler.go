package promos

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/pkg/response"
)

// ValidateRequest is the body for POST /api/promo/validate.
type ValidateRequest struct {
	Code  string `json:"code" binding:"required"`
	Price string `json:"price,omitempty"` // optional base price to preview the discount
}

// Handler exposes promo validation to the booking form.
type Handler struct {
	evaluator *Evaluator
	logger    *zap.Logger
}

// NewHandler creates a promo handler.
func NewHandler(evaluator *Evaluator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{evaluator: evaluator, logger: logger}
}

// Validate handles POST /api/promo/validate.
func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var base decimal.Decimal
	if req.Price != "" {
		var err error
		base, err = decimal.NewFromString(req.Price)
		if err != nil || base.IsNegative() {
			response.BadRequest(c, "price must be a non-negative number")
			return
		}
	}
	res, err := h.evaluator.Validate(c.Request.Context(), req.Code)
	if err != nil {
		response.Internal(c, "failed to validate promo code")
		return
	}
	out := gin.H{"valid": res.Valid, "code": res.Code}
	if !res.Valid {
		out["reason"] = res.Reason
		response.OK(c, out)
		return
	}
	out["discount"] = res.Discount
	if req.Price != "" {
		out["final_price"] = ApplyDiscount(base, *res.Discount).StringFixed(2)
	}
	response.OK(c, out)
}
