package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/internal/models"
)

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(60, 2)
	now := time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst not allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("third request inside burst window allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("other IP limited")
	}
	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("token not refilled after one second")
	}
}

func TestOperatorRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := auth.NewJWTService("test-secret", "")
	r := gin.New()
	r.GET("/admin", JWT(jwtSvc), RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/staff", JWT(jwtSvc), RequireRole(models.RoleAdmin, models.RoleCounselor), func(c *gin.Context) {
		if v, _ := c.Get(auth.ContextCounselorID); v != "c-1" {
			t.Errorf("counselor id = %v", v)
		}
		c.Status(http.StatusOK)
	})

	counselor, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		OperatorID:  "op-1",
		Email:       "nadia@clinic.test",
		Role:        string(models.RoleCounselor),
		CounselorID: "c-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		path, header string
		status       int
	}{
		{"/staff", "Bearer " + counselor, http.StatusOK},
		{"/admin", "Bearer " + counselor, http.StatusForbidden},
		{"/admin", "", http.StatusUnauthorized},
		{"/admin", "Token " + counselor, http.StatusUnauthorized},
		{"/admin", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("%s %q: status = %d, want %d", tc.path, tc.header, w.Code, tc.status)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://wellbeing.example"))
	r.POST("/api/create", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/create", nil)
	req.Header.Set("Origin", "https://wellbeing.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Idempotency-Key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://wellbeing.example" {
		t.Fatalf("status=%d headers=%v", w.Code, w.Header())
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Errorf("allow headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("credentials not allowed for listed origin")
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/create", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin: status=%d headers=%v", w.Code, w.Header())
	}
}

func TestCORSAnyOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("*"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status=%d headers=%v", w.Code, w.Header())
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials allowed with wildcard origin")
	}
}
