package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func registered(issuer string, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "op-42",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
}

func TestValidate(t *testing.T) {
	svc := NewJWTService("secret", "clinic-auth")

	good := sign(t, "secret", Claims{Email: "nadia@clinic.test", Role: "counselor", CounselorID: "c-7", RegisteredClaims: registered("clinic-auth", time.Hour)})
	claims, err := svc.Validate(good)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.OperatorID != "op-42" || claims.CounselorID != "c-7" {
		t.Fatalf("claims = %+v", claims)
	}

	rejected := map[string]string{
		"foreign secret": sign(t, "other", Claims{Role: "admin", RegisteredClaims: registered("clinic-auth", time.Hour)}),
		"expired":        sign(t, "secret", Claims{Role: "admin", RegisteredClaims: registered("clinic-auth", -time.Hour)}),
		"no expiry":      sign(t, "secret", Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Issuer: "clinic-auth"}}),
		"wrong issuer":   sign(t, "secret", Claims{Role: "admin", RegisteredClaims: registered("someone-else", time.Hour)}),
		"unknown role":   sign(t, "secret", Claims{Role: "client", RegisteredClaims: registered("clinic-auth", time.Hour)}),
		"garbage":        "not-a-jwt",
	}
	for name, tok := range rejected {
		if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestMeAndCounselorScope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		role      string
		counselor string
		wantCode  int
		wantScope string
	}{
		{"admin", "admin", "", http.StatusOK, ""},
		{"counselor", "counselor", "c-7", http.StatusOK, "c-7"},
		{"counselor without id", "counselor", "", http.StatusOK, "-"},
		{"no context", "", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scope string
			r := gin.New()
			r.GET("/me", func(c *gin.Context) {
				if tt.role != "" {
					c.Set(ContextRole, tt.role)
					c.Set(ContextOperatorID, "op-42")
					c.Set(ContextCounselorID, tt.counselor)
				}
				scope = CounselorScope(c)
			}, Me)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d", w.Code)
			}
			if scope != tt.wantScope {
				t.Fatalf("scope = %q, want %q", scope, tt.wantScope)
			}
			if tt.wantCode == http.StatusOK && !strings.Contains(w.Body.String(), `"operator_id":"op-42"`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}
