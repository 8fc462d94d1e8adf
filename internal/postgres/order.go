package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/skadi/internal/domain"
	"github.com/dukerupert/skadi/internal/repository"
)

const orderColumns = `
	id, user_id, order_number, currency, subtotal, discount, total,
	status, payment_status, items_snapshot, coupon_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.OrderNumber, &o.Currency,
		&o.Subtotal, &o.Discount, &o.Total,
		&o.Status, &o.PaymentStatus, &o.ItemsSnapshot, &o.CouponID,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, translateErr(err)
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *Store) CreateOrder(ctx context.Context, params repository.CreateOrderParams) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (user_id, order_number, currency, subtotal, discount, total,
			status, payment_status, items_snapshot, coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 'pending', $7, $8)
		RETURNING`+orderColumns,
		params.UserID, params.OrderNumber, params.Currency,
		params.Subtotal, params.Discount, params.Total,
		params.ItemsSnapshot, params.CouponID,
	)
	return scanOrder(row)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, params repository.UpdateOrderStatusParams) (domain.Order, error) {
	// COALESCE keeps nil fields unchanged.
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status         = COALESCE($2, status),
		    payment_status = COALESCE($3, payment_status),
		    updated_at     = now()
		WHERE id = $1
		RETURNING`+orderColumns,
		params.ID, params.Status, params.PaymentStatus,
	)
	return scanOrder(row)
}

const orderItemColumns = `
	id, order_id, category, name, domain_name, unit_price, currency,
	exchange_rate, quantity, duration_years, duration_months, total,
	metadata, signalled_at, created_at`

func scanOrderItem(row interface{ Scan(...any) error }) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := row.Scan(
		&it.ID, &it.OrderID, &it.Category, &it.Name, &it.DomainName,
		&it.UnitPrice, &it.Currency, &it.ExchangeRate, &it.Quantity,
		&it.DurationYears, &it.DurationMonths, &it.Total,
		&it.Metadata, &it.SignalledAt, &it.CreatedAt,
	)
	return it, translateErr(err)
}

func (s *Store) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) OrderItemExists(ctx context.Context, params repository.OrderItemExistsParams) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_items WHERE order_id = $1 AND natural_key = $2
		)`, params.OrderID, params.NaturalKey).Scan(&exists)
	return exists, translateErr(err)
}

func (s *Store) CreateOrderItem(ctx context.Context, params repository.CreateOrderItemParams) (domain.OrderItem, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO order_items (order_id, natural_key, category, name, domain_name,
			unit_price, currency, exchange_rate, quantity,
			duration_years, duration_months, total, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING`+orderItemColumns,
		params.OrderID, params.NaturalKey, params.Category, params.Name, params.DomainName,
		params.UnitPrice, params.Currency, params.ExchangeRate, params.Quantity,
		params.DurationYears, params.DurationMonths, params.Total, params.Metadata,
	)
	return scanOrderItem(row)
}

func (s *Store) MarkOrderItemSignalled(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE order_items SET signalled_at = $2 WHERE id = $1 AND signalled_at IS NULL`,
		id, at,
	)
	return translateErr(err)
}
