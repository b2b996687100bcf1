// Package sale contains the sale aggregate: one checkout attempt, its buyer
// snapshot and its payment/fulfillment status pair.
package sale

import (
	"errors"
	"fmt"
	"time"

	"github.com/dercio258/ratixpay/internal/common/money"
	"github.com/dercio258/ratixpay/internal/common/security"
)

// PaymentMethod is one of the supported mobile-money rails.
type PaymentMethod string

const (
	MethodMpesa PaymentMethod = "Mpesa"
	MethodEmola PaymentMethod = "Emola"
)

// ValidMethod reports whether m is a supported payment method.
func ValidMethod(m PaymentMethod) bool {
	return m == MethodMpesa || m == MethodEmola
}

// PaymentStatus is the gateway-facing settlement state.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// IsTerminal reports whether no further payment transition is accepted.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

// OrderStatus is the buyer-facing fulfillment state.
type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderCancelled       OrderStatus = "cancelled"
	OrderDelivered       OrderStatus = "delivered"
	OrderRefunded        OrderStatus = "refunded"
)

// OrderStatusFor derives the fulfillment transition implied by a payment
// status. Pending implies no change, so the zero value is returned.
func OrderStatusFor(p PaymentStatus) OrderStatus {
	switch p {
	case PaymentApproved:
		return OrderPaid
	case PaymentRejected:
		return OrderCancelled
	default:
		return ""
	}
}

// Validation errors surfaced by NewSale.
var (
	ErrInvalidAmount        = errors.New("amount outside allowed range")
	ErrInvalidPhone         = errors.New("invalid mozambican phone number")
	ErrInvalidMethod        = errors.New("unsupported payment method")
	ErrInvalidTransactionID = errors.New("malformed transaction id")
	ErrInvalidEmail         = errors.New("invalid buyer email")
)

// Store-level errors.
var (
	ErrNotFound             = errors.New("sale not found")
	ErrDuplicateTransaction = errors.New("transaction id already exists")
)

// Buyer is the snapshot of the purchaser captured at sale time. It is not a
// live reference: later customer edits must not alter what was true at
// purchase.
type Buyer struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	NationalID string `json:"national_id,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Affiliate holds the referral code and commission rate stored on the sale.
// Settlement is out of scope; the rate is recorded, never computed against.
type Affiliate struct {
	Code           string  `json:"code,omitempty"`
	CommissionRate float64 `json:"commission_rate,omitempty"`
}

// Sale is the aggregate root of the payment lifecycle.
type Sale struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`

	Buyer Buyer `json:"buyer"`

	OriginalAmount  money.Amount `json:"original_amount"`
	DiscountPercent float64      `json:"discount_percent"`
	CouponCode      string       `json:"coupon_code,omitempty"`
	FinalAmount     money.Amount `json:"final_amount"`

	Method        PaymentMethod `json:"method"`
	Gateway       string        `json:"gateway"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`

	Affiliate Affiliate `json:"affiliate,omitempty"`

	Status      OrderStatus `json:"status"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`

	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSaleParams carries the already-typed inputs for a new pending sale.
type NewSaleParams struct {
	ID              string
	TransactionID   string
	ProductID       string
	Buyer           Buyer
	OriginalAmount  money.Amount
	DiscountPercent float64
	CouponCode      string
	FinalAmount     money.Amount
	Method          PaymentMethod
	Gateway         string
	Affiliate       Affiliate
	IP              string
	UserAgent       string
}

// NewSale validates params and builds a pending sale. Free-text buyer fields
// are sanitized here so no caller can bypass it.
func NewSale(p NewSaleParams) (*Sale, error) {
	if err := p.FinalAmount.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, p.FinalAmount)
	}
	if !security.ValidPhone(p.Buyer.Phone) {
		return nil, ErrInvalidPhone
	}
	if !ValidMethod(p.Method) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, p.Method)
	}
	if p.Buyer.Email != "" && !security.ValidEmail(p.Buyer.Email) {
		return nil, ErrInvalidEmail
	}
	if p.TransactionID == "" {
		p.TransactionID = security.NewTransactionID()
	} else if !security.ValidTransactionID(p.TransactionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransactionID, p.TransactionID)
	}

	now := time.Now().UTC()
	return &Sale{
		ID:              p.ID,
		TransactionID:   p.TransactionID,
		ProductID:       p.ProductID,
		Buyer: Buyer{
			Name:       security.Sanitize(p.Buyer.Name),
			Email:      security.Sanitize(p.Buyer.Email),
			Phone:      security.Sanitize(p.Buyer.Phone),
			NationalID: security.Sanitize(p.Buyer.NationalID),
			Address:    security.Sanitize(p.Buyer.Address),
		},
		OriginalAmount:  p.OriginalAmount,
		DiscountPercent: p.DiscountPercent,
		CouponCode:      p.CouponCode,
		FinalAmount:     p.FinalAmount,
		Method:          p.Method,
		Gateway:         p.Gateway,
		PaymentStatus:   PaymentPending,
		Affiliate:       p.Affiliate,
		Status:          OrderAwaitingPayment,
		IP:              p.IP,
		UserAgent:       p.UserAgent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsTerminal reports whether the sale's payment reached a terminal state.
func (s *Sale) IsTerminal() bool {
	return s.PaymentStatus.IsTerminal()
}
