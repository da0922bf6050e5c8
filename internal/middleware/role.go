package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/internal/models"
	"github.com/wellbeing-clinic/booking/pkg/response"
)

// RequireRole returns a middleware that allows only the given operator roles.
func RequireRole(roles ...models.OperatorRole) gin.HandlerFunc {
	allowed := make(map[models.OperatorRole]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(auth.ContextRole)
		if !ok {
			response.Unauthorized(c, "missing operator context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[models.OperatorRole(role)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
