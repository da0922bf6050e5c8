package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/response"
)

// Gin context keys set by the JWT middleware.
const (
	ContextOperatorID  = "operator_id"
	ContextRole        = "operator_role"
	ContextEmail       = "operator_email"
	ContextCounselorID = "counselor_id"
)

// Identity is the signed-in operator as seen by this service.
type Identity struct {
	OperatorID  string `json:"operator_id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CounselorID string `json:"counselor_id,omitempty"`
}

// Me handles GET /api/auth/me. Call after the JWT middleware.
func Me(c *gin.Context) {
	role := c.GetString(ContextRole)
	if role == "" {
		response.Unauthorized(c, "missing operator context")
		return
	}
	response.OK(c, Identity{
		OperatorID:  c.GetString(ContextOperatorID),
		Email:       c.GetString(ContextEmail),
		Role:        role,
		CounselorID: c.GetString(ContextCounselorID),
	})
}

// CounselorScope returns the counselor id a request is restricted to, or "" for admins.
// A counselor token without a counselor id yields "-", which matches no appointment.
func CounselorScope(c *gin.Context) string {
	if c.GetString(ContextRole) != string(models.RoleCounselor) {
		return ""
	}
	if s := c.GetString(ContextCounselorID); s != "" {
		return s
	}
	return "-"
}
