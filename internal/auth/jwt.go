package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wellbeing-clinic/booking/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds the operator claims of a token issued by the clinic's auth service.
type Claims struct {
	OperatorID  string `json:"operator_id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CounselorID string `json:"counselor_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTService validates operator tokens. Tokens are never issued here.
type JWTService struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewJWTService creates a JWT validator. When issuer is non-empty the iss claim must match it.
func NewJWTService(secret, issuer string) *JWTService {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTService{secret: []byte(secret), opts: opts}
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, s.opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !models.OperatorRole(claims.Role).Valid() {
		return nil, ErrInvalidToken
	}
	if claims.OperatorID == "" {
		claims.OperatorID = claims.Subject
	}
	return claims, nil
}
