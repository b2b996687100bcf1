// Package customer keeps a best-effort roll-up of buyers derived from
// approved sales. It is statistics, not an invariant: failures are logged
// by callers and never affect payment state.
package customer

import (
	"context"
	"time"

	"github.com/dercio258/ratixpay/internal/common/money"
)

// Customer is the derived buyer record.
type Customer struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone"`
	Purchases  int64        `json:"purchases"`
	TotalSpent money.Amount `json:"total_spent"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Recorder folds an approved sale into the customer roll-up.
type Recorder interface {
	RecordPurchase(ctx context.Context, name, email, phone string, amount money.Amount) error
}

// NoopRecorder discards purchases. Used in tests.
type NoopRecorder struct{}

func (NoopRecorder) RecordPurchase(context.Context, string, string, string, money.Amount) error {
	return nil
}
