package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dercio258/ratixpay/internal/common/events"
	"github.com/dercio258/ratixpay/internal/common/money"
	"github.com/dercio258/ratixpay/internal/customer"
	"github.com/dercio258/ratixpay/internal/gateway/pagamoz"
	"github.com/dercio258/ratixpay/internal/notify"
	"github.com/dercio258/ratixpay/internal/payment"
	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

type stubGateway struct {
	status sale.PaymentStatus
}

func (stubGateway) Name() string { return "pagamoz" }

func (stubGateway) Initiate(context.Context, pagamoz.InitiateRequest) (*pagamoz.InitiateResponse, error) {
	return &pagamoz.InitiateResponse{
		TransactionID: "TX123",
		CheckoutURL:   "https://opay.example/checkout/TX123",
	}, nil
}

func (g stubGateway) FetchStatus(context.Context, string) (sale.PaymentStatus, error) {
	return g.status, nil
}

func newTestHandler(t *testing.T) (*Handler, *sale.MemoryStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sales := sale.NewMemoryStore()
	products := product.NewMemoryStore(&product.Product{
		ID:     "prod-1",
		Name:   "Curso",
		Price:  money.FromMZN(300),
		Active: true,
	})
	svc := payment.NewService(payment.Config{}, sales, products, stubGateway{},
		notify.Noop{}, customer.NoopRecorder{}, events.NoopPublisher{}, logger)
	return NewHandler(svc, logger), sales
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const checkoutBody = `{
	"product_id": "prod-1",
	"value": 300,
	"method": "Mpesa",
	"buyer_name": "Maria Jose",
	"buyer_email": "maria@example.co.mz",
	"buyer_phone": "845551234"
}`

func TestCheckoutEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Routes()

	rec := doJSON(t, r, http.MethodPost, "/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data struct {
			CheckoutURL string `json:"checkout_url"`
			Amount      string `json:"amount"`
			Sale        struct {
				TransactionID string `json:"transaction_id"`
				PaymentStatus string `json:"payment_status"`
			} `json:"sale"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TX123", resp.Data.Sale.TransactionID)
	assert.Equal(t, "pending", resp.Data.Sale.PaymentStatus)
	assert.Equal(t, "https://opay.example/checkout/TX123", resp.Data.CheckoutURL)
	assert.Equal(t, "300,00 MZN", resp.Data.Amount)
}

func TestCheckoutEndpointValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Routes()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing fields", `{"product_id": "prod-1"}`, http.StatusUnprocessableEntity},
		{"bad method", strings.Replace(checkoutBody, "Mpesa", "paypal", 1), http.StatusUnprocessableEntity},
		{"bad phone", strings.Replace(checkoutBody, "845551234", "12345", 1), http.StatusUnprocessableEntity},
		{"unknown product", strings.Replace(checkoutBody, "prod-1", "prod-9", 1), http.StatusNotFound},
		{"not json", `]]`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/checkout", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCheckoutEndpointMethodVocabulary(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Routes()

	// The checkout boundary speaks Mpesa/Emola; the lowercase words belong
	// to the gateway dialect and only the adapter uses them.
	tests := []struct {
		method string
		want   int
	}{
		{"Mpesa", http.StatusCreated},
		{"Emola", http.StatusCreated},
		{"mpesa", http.StatusUnprocessableEntity},
		{"emola", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/checkout", strings.Replace(checkoutBody, "Mpesa", tt.method, 1))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCallbackEndpoint(t *testing.T) {
	h, sales := newTestHandler(t)
	r := h.Routes()

	rec := doJSON(t, r, http.MethodPost, "/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/callback",
		`{"transactionId": "TX123", "status": "completed", "value": 300, "method": "mpesa", "phoneNumber": "845551234"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	sl, err := sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
}

func TestCallbackEndpointAlwaysAcknowledges(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Routes()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"transactionId": `},
		{"unknown transaction", `{"transactionId": "TXNOPE", "status": "completed"}`},
		{"unknown status", `{"transactionId": "TX123", "status": "weird"}`},
		{"empty", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/callback", tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestTransactionEndpointPollsGateway(t *testing.T) {
	h, _ := newTestHandler(t)
	h.service = payment.NewService(payment.Config{},
		mustCheckout(t), productStore(), stubGateway{status: sale.PaymentApproved},
		notify.Noop{}, customer.NoopRecorder{}, events.NoopPublisher{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := h.Routes()

	rec := doJSON(t, r, http.MethodGet, "/transaction/TX123", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			PaymentStatus string `json:"payment_status"`
			OrderStatus   string `json:"order_status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "approved", resp.Data.PaymentStatus)
	assert.Equal(t, "paid", resp.Data.OrderStatus)
}

func TestTransactionEndpointNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h.Routes(), http.MethodGet, "/transaction/TXNOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResendEmailEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	r := h.Routes()

	rec := doJSON(t, r, http.MethodPost, "/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Still pending: nothing to deliver yet.
	rec = doJSON(t, r, http.MethodPost, "/resend-email/TX123", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/callback", `{"transactionId": "TX123", "status": "completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/resend-email/TX123", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/resend-email/TXNOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// mustCheckout seeds a pending sale through the handler's own service and
// returns the backing store so a fresh service can share it.
func mustCheckout(t *testing.T) *sale.MemoryStore {
	t.Helper()
	sales := sale.NewMemoryStore()
	svc := payment.NewService(payment.Config{}, sales, productStore(), stubGateway{},
		notify.Noop{}, customer.NoopRecorder{}, events.NoopPublisher{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Checkout(context.Background(), &payment.CheckoutRequest{
		ProductID:  "prod-1",
		Value:      300,
		Method:     "Mpesa",
		BuyerName:  "Maria Jose",
		BuyerPhone: "845551234",
	})
	require.NoError(t, err)
	return sales
}

func productStore() *product.MemoryStore {
	return product.NewMemoryStore(&product.Product{
		ID:     "prod-1",
		Name:   "Curso",
		Price:  money.FromMZN(300),
		Active: true,
	})
}
