package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/pkg/response"
)

// TokenValidator is implemented by auth.JWTService.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT requires a bearer token from the clinic's auth service and stores the operator identity in the context.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		switch {
		case scheme == "":
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		case !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "":
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(auth.ContextOperatorID, claims.OperatorID)
		c.Set(auth.ContextRole, claims.Role)
		c.Set(auth.ContextEmail, claims.Email)
		c.Set(auth.ContextCounselorID, claims.CounselorID)
		c.Next()
	}
}
