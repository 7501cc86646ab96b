package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// OrderRepo reads order rows and applies reconciliation status writes. The
// broader order-management subsystem owns every other column.
type OrderRepo struct {
	DB Querier
}

const getOrderSQL = `
SELECT id, status, customer_name, customer_phone, customer_email, address, city, zone,
       total_amount, shipping_charge, discount_amount, updated_at
FROM orders
WHERE id = $1`

// Get returns the order row by id.
func (r OrderRepo) Get(ctx context.Context, id pgtype.UUID) (Order, error) {
	row := r.DB.QueryRow(ctx, getOrderSQL, id)
	var o Order
	err := row.Scan(&o.ID, &o.Status, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.Address, &o.City, &o.Zone, &o.TotalAmount, &o.ShippingCharge, &o.DiscountAmount, &o.UpdatedAt)
	return o, err
}

// UpdateStatusIfCurrentParams guards the status write: the update only applies
// while the order still holds the status the caller reconciled against.
type UpdateStatusIfCurrentParams struct {
	ID   pgtype.UUID
	From OrderStatus
	To   OrderStatus
}

const updateOrderStatusIfCurrentSQL = `
UPDATE orders
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
RETURNING id`

// UpdateStatusIfCurrent transitions the order status with an optimistic guard.
// It returns pgx.ErrNoRows when the order moved concurrently.
func (r OrderRepo) UpdateStatusIfCurrent(ctx context.Context, arg UpdateStatusIfCurrentParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := r.DB.QueryRow(ctx, updateOrderStatusIfCurrentSQL, arg.ID, arg.From, arg.To).Scan(&id)
	return id, err
}
