package sale

import (
	"context"
	"time"

	"github.com/dercio258/ratixpay/internal/common/money"
)

// Filter narrows List and Count queries.
type Filter struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Method        PaymentMethod
	ProductID     string
	BuyerEmail    string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// Stats is the revenue/status rollup used by the sales management screens.
type Stats struct {
	TotalSales     int64        `json:"total_sales"`
	Approved       int64        `json:"approved"`
	Pending        int64        `json:"pending"`
	Rejected       int64        `json:"rejected"`
	Revenue        money.Amount `json:"revenue"`
	DistinctBuyers int64        `json:"distinct_buyers"`
}

// DayRevenue is one day of the sales-by-day breakdown.
type DayRevenue struct {
	Day     string       `json:"day"`
	Count   int64        `json:"count"`
	Revenue money.Amount `json:"revenue"`
}

// MethodStats is the per-rail breakdown.
type MethodStats struct {
	Method PaymentMethod `json:"method"`
	Count  int64         `json:"count"`
	Total  money.Amount  `json:"total"`
}

// ProductSales is the per-product sold rollup.
type ProductSales struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Count       int64        `json:"count"`
	Revenue     money.Amount `json:"revenue"`
}

// Store persists sales. UpdatePaymentStatus is the only mutation path for
// payment state and must be a single conditional write so concurrent
// callback and poll deliveries cannot interleave.
type Store interface {
	Create(ctx context.Context, s *Sale) error
	GetByID(ctx context.Context, id string) (*Sale, error)
	GetByTransactionID(ctx context.Context, txID string) (*Sale, error)

	// ReplaceTransactionID swaps the locally generated transaction id for
	// the one assigned by the gateway after a successful initiate.
	ReplaceTransactionID(ctx context.Context, saleID, txID string) error

	// UpdatePaymentStatus conditionally transitions a still-pending sale,
	// deriving the order status in the same write. The bool result reports
	// whether this call performed the transition; side effects must be
	// gated on it.
	UpdatePaymentStatus(ctx context.Context, txID string, status PaymentStatus) (bool, error)

	List(ctx context.Context, f Filter) ([]*Sale, error)
	Count(ctx context.Context, f Filter) (int64, error)

	Stats(ctx context.Context) (*Stats, error)
	RevenueByDay(ctx context.Context, days int) ([]DayRevenue, error)
	MethodBreakdown(ctx context.Context) ([]MethodStats, error)
	ProductsSold(ctx context.Context) ([]ProductSales, error)
}
