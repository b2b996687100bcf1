// Package payment orchestrates the sale lifecycle: checkout, gateway
// initiation, callback and poll reconciliation, and the side effects that
// follow an approval.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/dercio258/ratixpay/internal/common/events"
	"github.com/dercio258/ratixpay/internal/common/middleware"
	"github.com/dercio258/ratixpay/internal/common/money"
	"github.com/dercio258/ratixpay/internal/common/security"
	"github.com/dercio258/ratixpay/internal/customer"
	"github.com/dercio258/ratixpay/internal/gateway/pagamoz"
	"github.com/dercio258/ratixpay/internal/notify"
	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Service errors beyond the validation set in package sale.
var (
	ErrProductInactive = errors.New("product is not for sale")
	ErrNotApproved     = errors.New("sale payment is not approved")
	ErrNoBuyerEmail    = errors.New("sale has no buyer email")
)

// Gateway is the payment gateway seen from the orchestrator. The adapter
// owns all vocabulary translation; statuses crossing this boundary are
// already internal ones.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req pagamoz.InitiateRequest) (*pagamoz.InitiateResponse, error)
	FetchStatus(ctx context.Context, transactionID string) (sale.PaymentStatus, error)
}

// Config holds checkout URLs handed to the gateway.
type Config struct {
	ReturnURL   string `envconfig:"CHECKOUT_RETURN_URL"`
	CallbackURL string `envconfig:"CHECKOUT_CALLBACK_URL"`
}

// Service coordinates stores, the gateway adapter and the side-effect
// collaborators. All side effects are best effort: a failed email or event
// never rolls back a completed payment.
type Service struct {
	cfg       Config
	sales     sale.Store
	products  product.Store
	gateway   Gateway
	notifier  notify.Notifier
	customers customer.Recorder
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates the payment orchestrator.
func NewService(cfg Config, sales sale.Store, products product.Store, gateway Gateway, notifier notify.Notifier, customers customer.Recorder, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		sales:     sales,
		products:  products,
		gateway:   gateway,
		notifier:  notifier,
		customers: customers,
		publisher: publisher,
		logger:    logger,
	}
}

// CheckoutRequest is the typed, validated checkout boundary.
type CheckoutRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Value     float64 `json:"value" validate:"required,gt=0"`
	Method    string  `json:"method" validate:"required,oneof=Mpesa Emola"`
	Coupon    string  `json:"coupon,omitempty"`

	BuyerName       string `json:"buyer_name" validate:"required"`
	BuyerEmail      string `json:"buyer_email,omitempty" validate:"omitempty,email"`
	BuyerPhone      string `json:"buyer_phone" validate:"required"`
	BuyerNationalID string `json:"buyer_national_id,omitempty"`
	BuyerAddress    string `json:"buyer_address,omitempty"`

	AffiliateCode  string  `json:"affiliate_code,omitempty"`
	CommissionRate float64 `json:"commission_rate,omitempty"`

	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`

	// Request audit, filled by the HTTP layer.
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// CheckoutResult is what the buyer needs to complete payment.
type CheckoutResult struct {
	Sale        *sale.Sale `json:"sale"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	Amount      string     `json:"amount"`
}

// Checkout creates a pending sale and asks the gateway to start collection.
// The sale is persisted before initiation, so a gateway failure leaves a
// pending record behind rather than losing the attempt; no side effects run
// until a status transition later confirms the payment.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	if !money.ValidateMZN(req.Value) {
		return nil, fmt.Errorf("%w: %.2f MZN", sale.ErrInvalidAmount, req.Value)
	}

	prod, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !prod.Active {
		return nil, ErrProductInactive
	}

	// The product price is the commercial truth; the request value is only
	// range checked above so an off-catalog amount fails loudly instead of
	// being silently charged.
	percent, coupon := resolveDiscount(prod.DiscountPercent, req.Coupon)
	final := prod.Price.ApplyDiscountPercent(percent)

	sl, err := sale.NewSale(sale.NewSaleParams{
		ID:        ulid.Make().String(),
		ProductID: prod.ID,
		Buyer: sale.Buyer{
			Name:       req.BuyerName,
			Email:      req.BuyerEmail,
			Phone:      req.BuyerPhone,
			NationalID: req.BuyerNationalID,
			Address:    req.BuyerAddress,
		},
		OriginalAmount:  prod.Price,
		DiscountPercent: percent,
		CouponCode:      coupon,
		FinalAmount:     final,
		Method:          sale.PaymentMethod(req.Method),
		Gateway:         s.gateway.Name(),
		Affiliate: sale.Affiliate{
			Code:           req.AffiliateCode,
			CommissionRate: req.CommissionRate,
		},
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sales.Create(ctx, sl); err != nil {
		return nil, fmt.Errorf("persist sale: %w", err)
	}

	s.publish(ctx, events.TypeSaleCreated, events.SubjectSaleCreated, sl)

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	resp, err := s.gateway.Initiate(ctx, pagamoz.InitiateRequest{
		Phone:       sl.Buyer.Phone,
		Amount:      sl.FinalAmount,
		Method:      sl.Method,
		Context:     prod.Name,
		ReturnURL:   returnURL,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		s.logger.Warn("gateway initiation failed, sale stays pending",
			"sale_id", sl.ID,
			"transaction_id", sl.TransactionID,
			"error", err,
		)
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	// Adopt the gateway's transaction id so callbacks and polls resolve.
	if resp.TransactionID != sl.TransactionID {
		if err := s.sales.ReplaceTransactionID(ctx, sl.ID, resp.TransactionID); err != nil {
			return nil, fmt.Errorf("attach gateway transaction id: %w", err)
		}
		sl.TransactionID = resp.TransactionID
	}

	s.logger.Info("checkout initiated",
		"sale_id", sl.ID,
		"transaction_id", sl.TransactionID,
		"product_id", prod.ID,
		"method", sl.Method,
		"amount", sl.FinalAmount.MZN(),
	)

	return &CheckoutResult{
		Sale:        sl,
		CheckoutURL: resp.CheckoutURL,
		Amount:      sl.FinalAmount.Format(),
	}, nil
}

// Callback carries the already-translated content of a gateway notification.
// Value, Method and Phone are the gateway's echo of the charge; they never
// drive the transition but are checked against the stored sale.
type Callback struct {
	TransactionID string
	Status        sale.PaymentStatus
	Value         float64
	Method        string
	Phone         string
}

// HandleCallback applies a gateway notification. Unknown transactions and
// replays are dropped after logging; the gateway retries on 5xx only, so
// every handled callback must end quietly. An error here means the store
// itself failed.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	if cb.TransactionID == "" {
		s.logger.Warn("callback without transaction id dropped")
		return nil
	}

	sl, err := s.sales.GetByTransactionID(ctx, cb.TransactionID)
	if errors.Is(err, sale.ErrNotFound) {
		s.logger.Warn("callback for unknown transaction dropped", "transaction_id", cb.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load sale for callback: %w", err)
	}

	s.auditCallback(sl, cb)

	if sl.IsTerminal() {
		s.logger.Info("callback replay for settled transaction dropped",
			"transaction_id", cb.TransactionID,
			"payment_status", sl.PaymentStatus,
		)
		return nil
	}
	if cb.Status == sale.PaymentPending {
		return nil
	}

	_, _, err = s.apply(ctx, cb.TransactionID, cb.Status, "callback")
	return err
}

// auditCallback checks the gateway's echoed charge details against the stored
// sale. A mismatch never blocks processing; the stored sale stays the truth
// and the discrepancy only needs to be visible in the logs.
func (s *Service) auditCallback(sl *sale.Sale, cb Callback) {
	if cb.Value != 0 && money.FromMZN(cb.Value) != sl.FinalAmount {
		s.logger.Warn("callback value does not match stored sale",
			"transaction_id", cb.TransactionID,
			"callback_value", cb.Value,
			"sale_amount", sl.FinalAmount.MZN(),
		)
	}
	// The gateway speaks its own lowercase dialect, so the comparison is
	// case insensitive.
	if cb.Method != "" && !strings.EqualFold(cb.Method, string(sl.Method)) {
		s.logger.Warn("callback method does not match stored sale",
			"transaction_id", cb.TransactionID,
			"callback_method", cb.Method,
			"sale_method", sl.Method,
		)
	}
	if cb.Phone != "" && normalizePhone(cb.Phone) != normalizePhone(sl.Buyer.Phone) {
		s.logger.Warn("callback phone does not match stored sale",
			"transaction_id", cb.TransactionID,
		)
	}
}

// normalizePhone reduces a phone to its 9-digit local form, tolerating the
// 258 country prefix either side may carry.
func normalizePhone(phone string) string {
	digits := security.DigitsOnly(phone)
	if len(digits) == 12 && strings.HasPrefix(digits, "258") {
		return digits[3:]
	}
	return digits
}

// ResolveStatus is the polling path. It consults the gateway for a pending
// sale and applies any terminal answer through the same conditional write as
// the callback path. Gateway trouble is absorbed: the caller gets the last
// known local state and the sale stays pending.
func (s *Service) ResolveStatus(ctx context.Context, transactionID string) (*sale.Sale, error) {
	sl, err := s.sales.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if sl.IsTerminal() {
		return sl, nil
	}

	status, err := s.gateway.FetchStatus(ctx, transactionID)
	if err != nil {
		s.logger.Warn("gateway status check failed, reporting last known state",
			"transaction_id", transactionID,
			"error", err,
		)
		return sl, nil
	}
	if status == sale.PaymentPending {
		return sl, nil
	}

	updated, _, err := s.apply(ctx, transactionID, status, "poll")
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetByTransactionID returns the local view of a sale without touching the
// gateway.
func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*sale.Sale, error) {
	return s.sales.GetByTransactionID(ctx, transactionID)
}

// ResendContentEmail re-sends the content access email for an approved sale.
// Unlike the automatic delivery after approval, failures here are returned
// to the caller, who asked for exactly this.
func (s *Service) ResendContentEmail(ctx context.Context, transactionID string) error {
	sl, err := s.sales.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	if sl.PaymentStatus != sale.PaymentApproved {
		return ErrNotApproved
	}
	if sl.Buyer.Email == "" {
		return ErrNoBuyerEmail
	}

	prod, err := s.products.GetByID(ctx, sl.ProductID)
	if err != nil {
		return err
	}
	return s.notifier.SendContentLink(ctx, sl, prod)
}

// apply performs the single conditional status write and, only when this
// call won the transition, runs the side effects. Losing the race to a
// concurrent delivery is not an error.
func (s *Service) apply(ctx context.Context, transactionID string, status sale.PaymentStatus, source string) (*sale.Sale, bool, error) {
	changed, err := s.sales.UpdatePaymentStatus(ctx, transactionID, status)
	if err != nil {
		return nil, false, fmt.Errorf("update payment status: %w", err)
	}

	sl, err := s.sales.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, false, err
	}

	if !changed {
		s.logger.Info("status transition already applied elsewhere",
			"transaction_id", transactionID,
			"source", source,
			"payment_status", sl.PaymentStatus,
		)
		return sl, false, nil
	}

	s.logger.Info("payment status transition",
		"transaction_id", transactionID,
		"source", source,
		"payment_status", sl.PaymentStatus,
		"order_status", sl.Status,
	)

	switch sl.PaymentStatus {
	case sale.PaymentApproved:
		s.settleApproved(ctx, sl)
	case sale.PaymentRejected:
		s.publish(ctx, events.TypePaymentRejected, events.SubjectPaymentRejected, sl)
	}
	return sl, true, nil
}

// settleApproved runs the approval side effects in order. Each one is
// independent: a failed email must not block the counter, and none of them
// may undo the payment.
func (s *Service) settleApproved(ctx context.Context, sl *sale.Sale) {
	var prod *product.Product

	bumped, err := s.products.IncrementSaleCount(ctx, sl.ProductID)
	if err != nil {
		s.logger.Error("sale counter increment failed", "sale_id", sl.ID, "product_id", sl.ProductID, "error", err)
	} else if !bumped {
		s.logger.Warn("sale counter skipped, product gone", "sale_id", sl.ID, "product_id", sl.ProductID)
	}

	prod, err = s.products.GetByID(ctx, sl.ProductID)
	if err != nil {
		s.logger.Error("product lookup for delivery failed", "sale_id", sl.ID, "product_id", sl.ProductID, "error", err)
	}

	if err := s.notifier.SendContentLink(ctx, sl, prod); err != nil {
		s.logger.Error("content email failed", "sale_id", sl.ID, "error", err)
	}
	if err := s.notifier.SendAdminAlert(ctx, sl, prod); err != nil {
		s.logger.Error("admin email failed", "sale_id", sl.ID, "error", err)
	}

	if err := s.customers.RecordPurchase(ctx, sl.Buyer.Name, sl.Buyer.Email, sl.Buyer.Phone, sl.FinalAmount); err != nil {
		s.logger.Error("customer roll-up failed", "sale_id", sl.ID, "error", err)
	}

	s.publish(ctx, events.TypePaymentApproved, events.SubjectPaymentApproved, sl)
}

func (s *Service) publish(ctx context.Context, eventType, subject string, sl *sale.Sale) {
	ev, err := events.New(eventType, sl.ID, sl)
	if err != nil {
		s.logger.Error("event build failed", "type", eventType, "sale_id", sl.ID, "error", err)
		return
	}
	if cid := middleware.GetCorrelationID(ctx); cid != "" {
		ev.WithCorrelation(cid)
	}
	if err := s.publisher.Publish(ctx, subject, ev); err != nil {
		s.logger.Error("event publish failed", "type", eventType, "sale_id", sl.ID, "error", err)
	}
}
