package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dercio258/ratixpay/internal/common/api"
	"github.com/dercio258/ratixpay/internal/gateway/pagamoz"
	"github.com/dercio258/ratixpay/internal/payment"
	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *payment.Service
	logger  *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service *payment.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/checkout", h.Checkout)
	r.Post("/callback", h.Callback)
	r.Get("/transaction/{txID}", h.Transaction)
	r.Get("/status/{txID}", h.Status)
	r.Post("/resend-email/{txID}", h.ResendEmail)

	return r
}

// Checkout handles POST /checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req payment.CheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	req.IP = clientIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.service.Checkout(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, product.ErrNotFound):
			api.NotFound(w, "product not found")
		case errors.Is(err, payment.ErrProductInactive):
			api.Conflict(w, "product is not for sale")
		case errors.Is(err, sale.ErrInvalidAmount),
			errors.Is(err, sale.ErrInvalidPhone),
			errors.Is(err, sale.ErrInvalidMethod),
			errors.Is(err, sale.ErrInvalidEmail),
			errors.Is(err, sale.ErrInvalidTransactionID):
			api.ValidationError(w, err)
		case errors.Is(err, sale.ErrDuplicateTransaction):
			api.Conflict(w, "transaction already exists")
		case isGatewayError(err):
			api.BadGateway(w, "payment gateway unavailable, try again")
		default:
			h.logger.Error("checkout failed", "error", err)
			api.InternalError(w, "failed to process checkout")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, res)
}

// callbackBody is the gateway's notification payload. Entirely untrusted:
// anything unusable is logged and acknowledged so the gateway stops
// retrying a payload that will never parse better.
type callbackBody struct {
	TransactionID string  `json:"transactionId"`
	Status        string  `json:"status"`
	Value         float64 `json:"value"`
	Method        string  `json:"method"`
	PhoneNumber   string  `json:"phoneNumber"`
}

// Callback handles POST /callback. It always acknowledges with 200 once the
// payload reached us; a 5xx would only trigger redeliveries of something the
// conditional write already makes safe to replay.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ack := func() {
		api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	}

	var body callbackBody
	if err := api.DecodeAndValidate(r, &body); err != nil {
		h.logger.Warn("malformed gateway callback dropped", "error", err)
		ack()
		return
	}

	cb := payment.Callback{
		TransactionID: body.TransactionID,
		Status:        pagamoz.MapStatus(body.Status),
		Value:         body.Value,
		Method:        body.Method,
		Phone:         body.PhoneNumber,
	}
	if err := h.service.HandleCallback(r.Context(), cb); err != nil {
		h.logger.Error("gateway callback processing failed",
			"transaction_id", body.TransactionID,
			"error", err,
		)
	}
	ack()
}

// statusView is the buyer-facing view of a sale's payment state.
type statusView struct {
	TransactionID string     `json:"transaction_id"`
	PaymentStatus string     `json:"payment_status"`
	OrderStatus   string     `json:"order_status"`
	Amount        string     `json:"amount"`
	Method        string     `json:"method"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func viewOf(sl *sale.Sale) statusView {
	return statusView{
		TransactionID: sl.TransactionID,
		PaymentStatus: string(sl.PaymentStatus),
		OrderStatus:   string(sl.Status),
		Amount:        sl.FinalAmount.Format(),
		Method:        string(sl.Method),
		ProcessedAt:   sl.ProcessedAt,
	}
}

// Transaction handles GET /transaction/{txID}. This is the polling path: a
// pending sale triggers a gateway status check before answering.
func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	sl, err := h.service.ResolveStatus(r.Context(), txID)
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			api.NotFound(w, "transaction not found")
			return
		}
		h.logger.Error("status resolution failed", "transaction_id", txID, "error", err)
		api.InternalError(w, "failed to resolve transaction status")
		return
	}

	api.WriteData(w, http.StatusOK, viewOf(sl))
}

// Status handles GET /status/{txID}, answering from local state only.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	sl, err := h.service.GetByTransactionID(r.Context(), txID)
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			api.NotFound(w, "transaction not found")
			return
		}
		api.InternalError(w, "failed to load transaction")
		return
	}

	api.WriteData(w, http.StatusOK, viewOf(sl))
}

// ResendEmail handles POST /resend-email/{txID}
func (h *Handler) ResendEmail(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")

	err := h.service.ResendContentEmail(r.Context(), txID)
	switch {
	case err == nil:
		api.WriteData(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, sale.ErrNotFound):
		api.NotFound(w, "transaction not found")
	case errors.Is(err, payment.ErrNotApproved):
		api.Conflict(w, "payment is not approved")
	case errors.Is(err, payment.ErrNoBuyerEmail):
		api.Conflict(w, "sale has no buyer email")
	default:
		h.logger.Error("resend email failed", "transaction_id", txID, "error", err)
		api.InternalError(w, "failed to resend email")
	}
}

func isGatewayError(err error) bool {
	var gerr *pagamoz.GatewayError
	return errors.As(err, &gerr)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
