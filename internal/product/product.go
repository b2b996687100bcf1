// Package product is the read side of the catalog plus the sale counter.
// Catalog management lives elsewhere; the payment flow only reads price and
// discount and bumps the counter on approval.
package product

import (
	"context"
	"errors"
	"time"

	"github.com/dercio258/ratixpay/internal/common/money"
)

// ErrNotFound is returned when a product id resolves to nothing.
var ErrNotFound = errors.New("product not found")

// Product is a digital good (course or eBook).
type Product struct {
	ID              string       `json:"id"`
	CustomID        string       `json:"custom_id,omitempty"`
	Name            string       `json:"name"`
	Type            string       `json:"type,omitempty"`
	Price           money.Amount `json:"price"`
	DiscountPercent float64      `json:"discount_percent"`
	Description     string       `json:"description,omitempty"`
	ImageURL        string       `json:"image_url,omitempty"`
	ContentLink     string       `json:"content_link,omitempty"`
	Active          bool         `json:"active"`
	SaleCount       int64        `json:"sale_count"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Store reads products and increments their sale counter.
type Store interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// IncrementSaleCount atomically bumps the counter. Returns false when
	// the product no longer exists.
	IncrementSaleCount(ctx context.Context, id string) (bool, error)
}
