package customer

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/dercio258/ratixpay/internal/common/database"
	"github.com/dercio258/ratixpay/internal/common/money"
)

// PostgresStore implements Recorder on PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL customer store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordPurchase upserts the buyer keyed by email and accumulates their
// purchase count and total in one statement.
func (s *PostgresStore) RecordPurchase(ctx context.Context, name, email, phone string, amount money.Amount) error {
	if email == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO customers (id, name, email, phone, purchases, total_spent, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, 1, $5, now(), now())
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			purchases = customers.purchases + 1,
			total_spent = customers.total_spent + EXCLUDED.total_spent,
			updated_at = now()
	`, ulid.Make().String(), name, email, phone, int64(amount))
	return err
}

var _ Recorder = (*PostgresStore)(nil)
