// Package pagamoz is the outbound HTTP adapter for the Paga Moz mobile-money
// gateway. It owns the translation between the gateway's vocabulary and the
// system's own enums; nothing outside this package speaks gateway dialect.
package pagamoz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dercio258/ratixpay/internal/common/money"
	"github.com/dercio258/ratixpay/internal/common/security"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Name is the gateway identifier recorded on sales.
const Name = "pagamoz"

// Config holds the gateway credentials and endpoint.
type Config struct {
	BaseURL   string        `envconfig:"PAGAMOZ_BASE_URL" default:"https://opay.mucamba.site/api/v1"`
	WalletID  string        `envconfig:"PAGAMOZ_WALLET_ID"`
	SecretKey string        `envconfig:"PAGAMOZ_SECRET_KEY"`
	Timeout   time.Duration `envconfig:"PAGAMOZ_TIMEOUT" default:"30s"`
}

// GatewayError is any failure to obtain a usable answer from Paga Moz:
// network errors, non-2xx responses and malformed payloads alike.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pagamoz %s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("pagamoz %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// methodVocabulary maps internal payment methods to the gateway's own
// values. Kept as a table so a vocabulary change is one edit, not a hunt
// through conditionals.
var methodVocabulary = map[sale.PaymentMethod]string{
	sale.MethodMpesa: "mpesa",
	sale.MethodEmola: "emola",
}

// statusVocabulary maps gateway-reported statuses to the internal ones.
// Anything unknown or absent stays pending: the gateway never gets to
// invent a terminal state we don't recognize.
var statusVocabulary = map[string]sale.PaymentStatus{
	"completed": sale.PaymentApproved,
	"failed":    sale.PaymentRejected,
}

// MapStatus translates a gateway status string into the internal vocabulary.
// Used by both the polling path here and the callback path upstream so the
// two cannot drift.
func MapStatus(gatewayStatus string) sale.PaymentStatus {
	if st, ok := statusVocabulary[gatewayStatus]; ok {
		return st
	}
	return sale.PaymentPending
}

// Client talks to the Paga Moz HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client with a bounded request timeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Name returns the gateway identifier recorded on sales.
func (c *Client) Name() string { return Name }

// InitiateRequest carries an already-validated payment initiation.
type InitiateRequest struct {
	Phone       string
	Amount      money.Amount
	Method      sale.PaymentMethod
	Context     string
	ReturnURL   string
	CallbackURL string
}

// InitiateResponse is the usable part of the gateway's initiation answer.
type InitiateResponse struct {
	TransactionID string
	CheckoutURL   string
}

type initiateBody struct {
	PhoneNumber string `json:"phoneNumber"`
	Value       string `json:"value"`
	Method      string `json:"method"`
	Context     string `json:"context"`
	ReturnURL   string `json:"returnUrl"`
	Callback    string `json:"callback"`
}

type initiateResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	CheckoutURL   string `json:"checkoutUrl"`
	Error         string `json:"error"`
}

// Initiate submits a payment request. Callers must have validated phone,
// amount and method already; this adapter only translates and transports.
// Initiation is never retried here: retrying risks a double charge, so the
// decision belongs to the caller issuing a fresh checkout.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	method, ok := methodVocabulary[req.Method]
	if !ok {
		return nil, &GatewayError{Op: "initiate", Err: fmt.Errorf("unmapped method %q", req.Method)}
	}

	body := initiateBody{
		PhoneNumber: security.DigitsOnly(req.Phone),
		Value:       req.Amount.GatewayValue(),
		Method:      method,
		Context:     req.Context,
		ReturnURL:   req.ReturnURL,
		Callback:    req.CallbackURL,
	}

	var result initiateResult
	if err := c.do(ctx, http.MethodPost, "/payment", body, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.TransactionID == "" {
		return nil, &GatewayError{Op: "initiate", Err: fmt.Errorf("gateway refused payment: %s", result.Error)}
	}

	c.logger.Info("pagamoz payment initiated",
		"transaction_id", result.TransactionID,
		"method", method,
		"value", body.Value,
	)

	return &InitiateResponse{
		TransactionID: result.TransactionID,
		CheckoutURL:   result.CheckoutURL,
	}, nil
}

type statusResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FetchStatus queries the gateway for the current status of a transaction.
// A GatewayError here means "unknown, try again later", never a rejection.
func (c *Client) FetchStatus(ctx context.Context, transactionID string) (sale.PaymentStatus, error) {
	var result statusResult
	if err := c.do(ctx, http.MethodGet, "/transaction/"+transactionID, nil, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &GatewayError{Op: "fetch status", Err: fmt.Errorf("transaction %s not known to gateway", transactionID)}
	}
	return MapStatus(result.Status), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "fetch status"
	if method == http.MethodPost {
		op = "initiate"
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wallet-Id", c.cfg.WalletID)
	req.Header.Set("X-Secret-Key", c.cfg.SecretKey)
	if method == http.MethodPost {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
