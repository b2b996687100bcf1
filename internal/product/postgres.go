package product

import (
	"context"

	"github.com/dercio258/ratixpay/internal/common/database"
	"github.com/dercio258/ratixpay/internal/common/money"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL product store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetByID retrieves a product by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	var price int64
	var customID, ptype, description, imageURL, contentLink *string

	err := s.db.QueryRow(ctx, `
		SELECT id, custom_id, name, type, price, discount_percent,
			description, image_url, content_link, active, sale_count,
			created_at, updated_at
		FROM products WHERE id = $1
	`, id).Scan(
		&p.ID, &customID, &p.Name, &ptype, &price, &p.DiscountPercent,
		&description, &imageURL, &contentLink, &p.Active, &p.SaleCount,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Price = money.New(price)
	if customID != nil {
		p.CustomID = *customID
	}
	if ptype != nil {
		p.Type = *ptype
	}
	if description != nil {
		p.Description = *description
	}
	if imageURL != nil {
		p.ImageURL = *imageURL
	}
	if contentLink != nil {
		p.ContentLink = *contentLink
	}
	return &p, nil
}

// IncrementSaleCount bumps the counter in a single statement so concurrent
// approvals never lose an increment.
func (s *PostgresStore) IncrementSaleCount(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET sale_count = sale_count + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
