package sale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dercio258/ratixpay/internal/common/database"
	"github.com/dercio258/ratixpay/internal/common/money"
)

const saleColumns = `id, transaction_id, product_id,
	buyer_name, buyer_email, buyer_phone, buyer_national_id, buyer_address,
	original_amount, discount_percent, coupon_code, final_amount,
	method, gateway, payment_status, processed_at,
	affiliate_code, affiliate_commission,
	status, delivered_at, ip, user_agent, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL sale store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new sale. The unique index on transaction_id is the
// backstop against concurrent double-insert; violations surface as
// ErrDuplicateTransaction.
func (s *PostgresStore) Create(ctx context.Context, sl *Sale) error {
	query := `
		INSERT INTO sales (` + saleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err := s.db.Exec(ctx, query,
		sl.ID, sl.TransactionID, sl.ProductID,
		sl.Buyer.Name, sl.Buyer.Email, sl.Buyer.Phone, nullStr(sl.Buyer.NationalID), nullStr(sl.Buyer.Address),
		int64(sl.OriginalAmount), sl.DiscountPercent, nullStr(sl.CouponCode), int64(sl.FinalAmount),
		sl.Method, sl.Gateway, sl.PaymentStatus, sl.ProcessedAt,
		nullStr(sl.Affiliate.Code), sl.Affiliate.CommissionRate,
		sl.Status, sl.DeliveredAt, nullStr(sl.IP), nullStr(sl.UserAgent), sl.CreatedAt, sl.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, sl.TransactionID)
	}
	return err
}

// GetByID retrieves a sale by internal id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Sale, error) {
	row := s.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	return scanSale(row)
}

// GetByTransactionID retrieves a sale by its external transaction id.
func (s *PostgresStore) GetByTransactionID(ctx context.Context, txID string) (*Sale, error) {
	row := s.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_id = $1`, txID)
	return scanSale(row)
}

// ReplaceTransactionID attaches the gateway-assigned transaction id.
func (s *PostgresStore) ReplaceTransactionID(ctx context.Context, saleID, txID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sales SET transaction_id = $2, updated_at = now() WHERE id = $1`,
		saleID, txID,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePaymentStatus performs the conditional transition in one statement.
// The order status is derived in the same write, and only a still-pending
// row can transition, so two racing deliveries cannot both win.
func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, txID string, status PaymentStatus) (bool, error) {
	if status == PaymentPending {
		return false, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sales SET
			payment_status = $2,
			status = CASE
				WHEN $2 = 'approved' THEN 'paid'
				WHEN $2 = 'rejected' THEN 'cancelled'
				ELSE status
			END,
			processed_at = now(),
			updated_at = now()
		WHERE transaction_id = $1 AND payment_status = 'pending'
	`, txID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.Method != "" {
		add("method = $%d", f.Method)
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.BuyerEmail != "" {
		add("buyer_email = $%d", f.BuyerEmail)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns sales matching the filter, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Sale, error) {
	where, args := f.where()
	query := `SELECT ` + saleColumns + ` FROM sales` + where + ` ORDER BY created_at DESC`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*Sale
	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sl)
	}
	return sales, rows.Err()
}

// Count returns the number of sales matching the filter.
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&n)
	return n, err
}

// Stats returns the status/revenue rollup in one pass over the table.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var revenue int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE payment_status = 'approved'),
			COUNT(*) FILTER (WHERE payment_status = 'pending'),
			COUNT(*) FILTER (WHERE payment_status = 'rejected'),
			COALESCE(SUM(final_amount) FILTER (WHERE payment_status = 'approved'), 0),
			COUNT(DISTINCT buyer_email) FILTER (WHERE buyer_email <> '')
		FROM sales
	`).Scan(&st.TotalSales, &st.Approved, &st.Pending, &st.Rejected, &revenue, &st.DistinctBuyers)
	if err != nil {
		return nil, err
	}
	st.Revenue = money.New(revenue)
	return &st, nil
}

// RevenueByDay returns count and approved revenue per day for the trailing
// window.
func (s *PostgresStore) RevenueByDay(ctx context.Context, days int) ([]DayRevenue, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(created_at::date, 'YYYY-MM-DD'),
			COUNT(*),
			COALESCE(SUM(final_amount) FILTER (WHERE payment_status = 'approved'), 0)
		FROM sales
		WHERE created_at >= now() - make_interval(days => $1)
		GROUP BY created_at::date
		ORDER BY created_at::date
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayRevenue
	for rows.Next() {
		var d DayRevenue
		var revenue int64
		if err := rows.Scan(&d.Day, &d.Count, &revenue); err != nil {
			return nil, err
		}
		d.Revenue = money.New(revenue)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MethodBreakdown returns approved volume per payment rail.
func (s *PostgresStore) MethodBreakdown(ctx context.Context) ([]MethodStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT method, COUNT(*), COALESCE(SUM(final_amount), 0)
		FROM sales
		WHERE payment_status = 'approved'
		GROUP BY method
		ORDER BY method
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MethodStats
	for rows.Next() {
		var m MethodStats
		var total int64
		if err := rows.Scan(&m.Method, &m.Count, &total); err != nil {
			return nil, err
		}
		m.Total = money.New(total)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProductsSold returns the per-product sold rollup for approved sales.
func (s *PostgresStore) ProductsSold(ctx context.Context) ([]ProductSales, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.product_id, COALESCE(p.name, ''), COUNT(*), COALESCE(SUM(s.final_amount), 0)
		FROM sales s
		LEFT JOIN products p ON p.id = s.product_id
		WHERE s.payment_status = 'approved'
		GROUP BY s.product_id, p.name
		ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductSales
	for rows.Next() {
		var ps ProductSales
		var revenue int64
		if err := rows.Scan(&ps.ProductID, &ps.ProductName, &ps.Count, &revenue); err != nil {
			return nil, err
		}
		ps.Revenue = money.New(revenue)
		out = append(out, ps)
	}
	return out, rows.Err()
}

func scanSale(row pgx.Row) (*Sale, error) {
	var sl Sale
	var nationalID, address, coupon, affCode, ip, userAgent *string
	var original, final int64
	var processedAt, deliveredAt *time.Time

	err := row.Scan(
		&sl.ID, &sl.TransactionID, &sl.ProductID,
		&sl.Buyer.Name, &sl.Buyer.Email, &sl.Buyer.Phone, &nationalID, &address,
		&original, &sl.DiscountPercent, &coupon, &final,
		&sl.Method, &sl.Gateway, &sl.PaymentStatus, &processedAt,
		&affCode, &sl.Affiliate.CommissionRate,
		&sl.Status, &deliveredAt, &ip, &userAgent, &sl.CreatedAt, &sl.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sl.OriginalAmount = money.New(original)
	sl.FinalAmount = money.New(final)
	sl.ProcessedAt = processedAt
	sl.DeliveredAt = deliveredAt
	if nationalID != nil {
		sl.Buyer.NationalID = *nationalID
	}
	if address != nil {
		sl.Buyer.Address = *address
	}
	if coupon != nil {
		sl.CouponCode = *coupon
	}
	if affCode != nil {
		sl.Affiliate.Code = *affCode
	}
	if ip != nil {
		sl.IP = *ip
	}
	if userAgent != nil {
		sl.UserAgent = *userAgent
	}
	return &sl, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
