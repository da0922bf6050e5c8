package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wellbeing-clinic/booking/internal/domain"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// PaymentRequired sends 402 when the gateway declined a payment.
func PaymentRequired(c *gin.Context, err string) {
	c.JSON(http.StatusPaymentRequired, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// TooManyRequests sends 429.
func TooManyRequests(c *gin.Context, err string) {
	c.JSON(http.StatusTooManyRequests, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Validation sends 400 with per-field messages.
func Validation(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: "invalid booking details", Fields: fields})
}

// DomainError maps the domain error taxonomy onto status codes. Store and unexpected
// errors never leak their message.
func DomainError(c *gin.Context, err error) {
	var verr domain.ValidationError
	var rej domain.GatewayRejectedError
	switch {
	case errors.As(err, &verr):
		Validation(c, verr.Fields)
	case domain.IsNotFound(err):
		NotFound(c, err.Error())
	case domain.IsConflict(err):
		Conflict(c, err.Error())
	case errors.As(err, &rej):
		PaymentRequired(c, rej.Error())
	case domain.IsGatewayAuth(err), domain.IsGatewayUnavailable(err):
		ServiceUnavailable(c, "payment service unavailable")
	default:
		Internal(c, "something went wrong, please contact support with your booking reference")
	}
}
