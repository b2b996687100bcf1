// Package notify delivers content-access and admin emails. Delivery is
// best-effort by contract: a failed email never rolls back payment state.
package notify

import (
	"context"

	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Notifier dispatches the two post-approval emails.
type Notifier interface {
	// SendContentLink delivers the purchased-content email to the buyer.
	SendContentLink(ctx context.Context, s *sale.Sale, p *product.Product) error
	// SendAdminAlert notifies the marketplace operator of a completed sale.
	SendAdminAlert(ctx context.Context, s *sale.Sale, p *product.Product) error
}

// Noop is a Notifier that does nothing. Used when SMTP is not configured
// and in tests.
type Noop struct{}

func (Noop) SendContentLink(context.Context, *sale.Sale, *product.Product) error { return nil }
func (Noop) SendAdminAlert(context.Context, *sale.Sale, *product.Product) error  { return nil }
