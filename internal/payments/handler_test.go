package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/create", h.Create)
	r.POST("/api/callback", h.Callback)
	r.GET("/api/payment/callback", h.BrowserCallback)
	return r
}

func doJSON(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const createBody = `{"amount":"1500","name":"Rahim Uddin","bookingDetails":{"name":"Rahim Uddin","email":"rahim@example.com",
"phone":"01770618575","counselorId":"c-1","serviceId":"svc-1","date":"2026-11-02","time":"10:00 AM","price":"1500"}}`

func TestCreateThenCallbackFlow(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	rec, _, _ := newTestReconciler(store, gw)
	router := newTestRouter(NewHandler(newTestBridge(store, gw, nil), rec, "http://front.test", nil))

	w := doJSON(router, http.MethodPost, "/api/create", createBody, map[string]string{IdempotencyHeader: "submit-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created["redirectUrl"], "https://sandbox.payment.bkash.com/") || !strings.HasPrefix(created["shortReference"], "WBC-") {
		t.Fatalf("create body = %v", created)
	}

	w = doJSON(router, http.MethodPost, "/api/callback", `{"paymentID":"TR001","status":"success"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d body=%s", w.Code, w.Body.String())
	}
	var out Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.TrxID != "TRX-TR001" || out.AppointmentID != created["appointmentId"] {
		t.Fatalf("callback = %+v", out)
	}

	// A second booking of the same slot is refused before any session opens.
	other := strings.Replace(createBody, "rahim@example.com", "karim@example.com", 1)
	w = doJSON(router, http.MethodPost, "/api/create", other, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second create status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestCallbackStatuses(t *testing.T) {
	store := newMemStore()
	store.seed("TR001", "c-1", "2026-11-02", "10:00 AM", time.Now())
	store.seed("TR002", "c-1", "2026-11-02", "10:00 AM", time.Now())
	rec, _, _ := newTestReconciler(store, &fakeGateway{})
	router := newTestRouter(NewHandler(nil, rec, "http://front.test", nil))

	cases := []struct {
		body   string
		status int
	}{
		{`{"paymentID":"TR001","status":"success"}`, http.StatusOK},
		{`{"paymentID":"TR001","status":"success"}`, http.StatusOK},
		{`{"paymentID":"TR002","status":"success"}`, http.StatusPaymentRequired},
		{`{"paymentID":"TR999","status":"success"}`, http.StatusNotFound},
		{`{"status":"success"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := doJSON(router, http.MethodPost, "/api/callback", tc.body, nil); w.Code != tc.status {
			t.Errorf("%s: status = %d, want %d (%s)", tc.body, w.Code, tc.status, w.Body.String())
		}
	}
}

type fixedReconciler struct {
	out Outcome
	err error
}

func (f fixedReconciler) Reconcile(context.Context, string, string) (Outcome, error) {
	return f.out, f.err
}

func TestBrowserCallbackRedirects(t *testing.T) {
	cases := []struct {
		name  string
		rec   fixedReconciler
		query string
		want  string
	}{
		{"confirmed", fixedReconciler{out: Outcome{Success: true, AppointmentID: "a-1", ShortReference: "WBC-AB12CD34"}},
			"?paymentID=TR001&status=success", "http://front.test/booking/confirmation?appointmentId=a-1&ref=WBC-AB12CD34"},
		{"declined", fixedReconciler{out: Outcome{Success: false}}, "?paymentID=TR001&status=failure", "http://front.test/booking?payment=failed"},
		{"missing id", fixedReconciler{}, "?status=cancel", "http://front.test/booking?payment=invalid"},
		{"unresolved", fixedReconciler{err: context.DeadlineExceeded}, "?paymentID=TR001", "http://front.test/booking?payment=pending"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(NewHandler(nil, tc.rec, "http://front.test/", nil))
			w := doJSON(router, http.MethodGet, "/api/payment/callback"+tc.query, "", nil)
			if w.Code != http.StatusFound {
				t.Fatalf("status = %d", w.Code)
			}
			if got := w.Header().Get("Location"); got != tc.want {
				t.Fatalf("Location = %q, want %q", got, tc.want)
			}
		})
	}
}
