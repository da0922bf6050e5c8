// Package bkash is a client for the tokenized checkout API of the bKash payment gateway.
// Every response is parsed into a typed result at this boundary; a shape the client does not
// recognise is an error, never a success.
package bkash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/config"
	"github.com/wellbeing-clinic/booking/internal/domain"
)

const (
	pathGrant   = "/tokenized/checkout/token/grant"
	pathCreate  = "/tokenized/checkout/create"
	pathExecute = "/tokenized/checkout/execute"
	pathStatus  = "/tokenized/checkout/payment/status"

	// StatusSuccessful is the gateway's success status code.
	StatusSuccessful = "0000"
	// StatusAlreadyCompleted is returned when execute is called for a payment that already went through.
	StatusAlreadyCompleted = "2062"

	transactionCompleted = "Completed"
	maxResponseBytes     = 1 << 20
)

// canceledStatuses are transaction statuses the gateway uses for a payer-side cancellation.
var canceledStatuses = map[string]bool{"Cancelled": true, "Canceled": true}

// Client calls the gateway with a bounded timeout and one retry on network failures.
type Client struct {
	cfg    config.GatewayConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client. The http.Client timeout bounds each attempt.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Token is a short-lived id_token.
type Token struct {
	IDToken   string
	ExpiresIn int
}

// CreatePaymentRequest opens a checkout session.
type CreatePaymentRequest struct {
	Amount         decimal.Decimal
	PayerReference string
	Invoice        string
	CallbackURL    string
}

// CreatePaymentResult is an opened session.
type CreatePaymentResult struct {
	PaymentID   string
	RedirectURL string
	Raw         json.RawMessage
}

// ExecuteResult is one of PaymentCompleted, PaymentDeclined, PaymentAlreadyExecuted or PaymentNotExecuted.
type ExecuteResult interface {
	isExecuteResult()
}

// PaymentCompleted means money moved.
type PaymentCompleted struct {
	PaymentID         string
	TrxID             string
	CustomerMsisdn    string
	Amount            string
	TransactionStatus string
	Raw               json.RawMessage
}

// PaymentDeclined is any terminal non-success outcome. Canceled is true when the payer canceled.
type PaymentDeclined struct {
	PaymentID         string
	StatusCode        string
	StatusMessage     string
	TransactionStatus string
	Canceled          bool
	Raw               json.RawMessage
}

// PaymentAlreadyExecuted means execute was already called for this payment; query the status to learn the outcome.
type PaymentAlreadyExecuted struct {
	PaymentID     string
	StatusMessage string
	Raw           json.RawMessage
}

// PaymentNotExecuted is a query result for a session the payer has not finished (Initiated, Inprogress).
type PaymentNotExecuted struct {
	PaymentID         string
	TransactionStatus string
	Raw               json.RawMessage
}

func (PaymentCompleted) isExecuteResult()       {}
func (PaymentDeclined) isExecuteResult()        {}
func (PaymentAlreadyExecuted) isExecuteResult() {}
func (PaymentNotExecuted) isExecuteResult()     {}

// envelope covers the fields shared by all gateway responses, in both the statusCode and errorCode dialects.
type envelope struct {
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
	IDToken           string `json:"id_token"`
	ExpiresIn         int    `json:"expires_in"`
	PaymentID         string `json:"paymentID"`
	BkashURL          string `json:"bkashURL"`
	TrxID             string `json:"trxID"`
	TransactionStatus string `json:"transactionStatus"`
	CustomerMsisdn    string `json:"customerMsisdn"`
	Amount            string `json:"amount"`
}

func (e envelope) code() string {
	if e.StatusCode != "" {
		return e.StatusCode
	}
	return e.ErrorCode
}

func (e envelope) message() string {
	if e.StatusMessage != "" {
		return e.StatusMessage
	}
	return e.ErrorMessage
}

// GrantToken requests a fresh id_token with the service credentials.
func (c *Client) GrantToken(ctx context.Context) (Token, error) {
	headers := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	body := map[string]string{"app_key": c.cfg.AppKey, "app_secret": c.cfg.AppSecret}
	env, _, status, err := c.post(ctx, "grant token", pathGrant, headers, body)
	if err != nil {
		return Token{}, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return Token{}, domain.GatewayAuthError{Err: fmt.Errorf("http %d: %s", status, env.message())}
	}
	if code := env.code(); code != "" && code != StatusSuccessful {
		return Token{}, domain.GatewayAuthError{Err: fmt.Errorf("%s: %s", code, env.message())}
	}
	if env.IDToken == "" {
		return Token{}, domain.GatewayAuthError{Err: errors.New("response without id_token")}
	}
	return Token{IDToken: env.IDToken, ExpiresIn: env.ExpiresIn}, nil
}

// CreatePayment opens a checkout session for req.
func (c *Client) CreatePayment(ctx context.Context, tok Token, req CreatePaymentRequest) (CreatePaymentResult, error) {
	body := map[string]string{
		"mode":                  "0011",
		"payerReference":        req.PayerReference,
		"callbackURL":           req.CallbackURL,
		"amount":                req.Amount.StringFixed(2),
		"currency":              c.cfg.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": req.Invoice,
	}
	env, raw, status, err := c.post(ctx, "create payment", pathCreate, c.authHeaders(tok), body)
	if err != nil {
		return CreatePaymentResult{}, err
	}
	if status == http.StatusUnauthorized {
		return CreatePaymentResult{}, domain.GatewayAuthError{Err: fmt.Errorf("create payment: http %d", status)}
	}
	switch code := env.code(); {
	case code == "":
		return CreatePaymentResult{}, unexpected("create payment", status, "missing status code")
	case code != StatusSuccessful:
		return CreatePaymentResult{}, domain.GatewayRejectedError{Code: code, Msg: env.message()}
	case env.PaymentID == "" || env.BkashURL == "":
		return CreatePaymentResult{}, unexpected("create payment", status, "missing paymentID or bkashURL")
	}
	return CreatePaymentResult{PaymentID: env.PaymentID, RedirectURL: env.BkashURL, Raw: raw}, nil
}

// ExecutePayment captures the payment the payer authorised.
func (c *Client) ExecutePayment(ctx context.Context, tok Token, paymentID string) (ExecuteResult, error) {
	env, raw, status, err := c.post(ctx, "execute payment", pathExecute, c.authHeaders(tok), map[string]string{"paymentID": paymentID})
	if err != nil {
		return nil, err
	}
	return classify("execute payment", paymentID, env, raw, status)
}

// QueryPayment reports the current state of a payment without changing it.
func (c *Client) QueryPayment(ctx context.Context, tok Token, paymentID string) (ExecuteResult, error) {
	env, raw, status, err := c.post(ctx, "query payment", pathStatus, c.authHeaders(tok), map[string]string{"paymentID": paymentID})
	if err != nil {
		return nil, err
	}
	res, err := classify("query payment", paymentID, env, raw, status)
	if err != nil {
		return nil, err
	}
	if d, ok := res.(PaymentDeclined); ok && d.StatusCode == StatusSuccessful {
		switch d.TransactionStatus {
		case "Initiated", "Inprogress", "Authorized":
			return PaymentNotExecuted{PaymentID: paymentID, TransactionStatus: d.TransactionStatus, Raw: raw}, nil
		}
	}
	return res, nil
}

func classify(op, paymentID string, env envelope, raw json.RawMessage, status int) (ExecuteResult, error) {
	if status == http.StatusUnauthorized {
		return nil, domain.GatewayAuthError{Err: fmt.Errorf("%s: http %d", op, status)}
	}
	code := env.code()
	switch {
	case code == "":
		return nil, unexpected(op, status, "missing status code")
	case code == StatusSuccessful && env.TransactionStatus == transactionCompleted:
		if env.TrxID == "" {
			return nil, unexpected(op, status, "completed without trxID")
		}
		return PaymentCompleted{
			PaymentID:         firstNonEmpty(env.PaymentID, paymentID),
			TrxID:             env.TrxID,
			CustomerMsisdn:    env.CustomerMsisdn,
			Amount:            env.Amount,
			TransactionStatus: env.TransactionStatus,
			Raw:               raw,
		}, nil
	case code == StatusAlreadyCompleted:
		return PaymentAlreadyExecuted{PaymentID: paymentID, StatusMessage: env.message(), Raw: raw}, nil
	}
	return PaymentDeclined{
		PaymentID:         firstNonEmpty(env.PaymentID, paymentID),
		StatusCode:        code,
		StatusMessage:     env.message(),
		TransactionStatus: env.TransactionStatus,
		Canceled:          canceledStatuses[env.TransactionStatus],
		Raw:               raw,
	}, nil
}

func (c *Client) authHeaders(tok Token) map[string]string {
	return map[string]string{"Authorization": tok.IDToken, "X-APP-Key": c.cfg.AppKey}
}

// post sends body as JSON and decodes the envelope. A network failure is retried once;
// HTTP status codes and gateway rejections never are.
func (c *Client) post(ctx context.Context, op, path string, headers map[string]string, body any) (envelope, json.RawMessage, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, nil, 0, fmt.Errorf("marshal %s: %w", op, err)
	}
	var raw []byte
	var status int
	for attempt := 1; ; attempt++ {
		raw, status, err = c.send(ctx, path, headers, payload)
		if err == nil {
			break
		}
		if attempt >= 2 || !retryable(ctx, err) {
			c.logger.Warn("gateway call failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return envelope{}, nil, 0, domain.GatewayUnavailableError{Op: op, Err: err}
		}
		c.logger.Info("gateway call retried after network error", zap.String("op", op), zap.Error(err))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return envelope{}, nil, status, domain.GatewayAuthError{Err: fmt.Errorf("%s: http %d", op, status)}
		}
		return envelope{}, nil, status, unexpected(op, status, "body is not JSON")
	}
	if status >= http.StatusInternalServerError {
		return envelope{}, nil, status, unexpected(op, status, env.message())
	}
	return env, json.RawMessage(raw), status, nil
}

func (c *Client) send(ctx context.Context, path string, headers map[string]string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// retryable reports network-level failures worth one more attempt, as long as the caller is still waiting.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func unexpected(op string, status int, detail string) error {
	return domain.GatewayUnavailableError{Op: op, Err: fmt.Errorf("unexpected response (http %d): %s", status, detail)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
