package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ShipmentRepo persists shipment rows. Status updates are compare-and-set on
// updated_at so racing refreshes cannot overwrite a newer result.
type ShipmentRepo struct {
	DB Querier
}

// CreateShipmentParams captures the insert arguments for a new shipment.
type CreateShipmentParams struct {
	OrderID      pgtype.UUID
	ProviderID   pgtype.UUID
	ProviderType string
	TrackingID   pgtype.Text
	ExternalID   pgtype.Text
	Status       ShipmentStatus
	Metadata     []byte
	CODAmount    int64
}

const createShipmentSQL = `
INSERT INTO shipments (order_id, provider_id, provider_type, tracking_id, external_id, status, metadata, cod_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, order_id, provider_id, provider_type, tracking_id, external_id,
          status, raw_status, metadata, cod_amount, last_checked, created_at, updated_at`

// Create inserts a shipment and returns the stored row.
func (r ShipmentRepo) Create(ctx context.Context, arg CreateShipmentParams) (Shipment, error) {
	metadata := arg.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	row := r.DB.QueryRow(ctx, createShipmentSQL,
		arg.OrderID, arg.ProviderID, arg.ProviderType, arg.TrackingID, arg.ExternalID,
		arg.Status, metadata, arg.CODAmount)
	return scanShipment(row)
}

const getShipmentSQL = `
SELECT id, order_id, provider_id, provider_type, tracking_id, external_id,
       status, raw_status, metadata, cod_amount, last_checked, created_at, updated_at
FROM shipments
WHERE id = $1`

// Get returns the shipment row by id.
func (r ShipmentRepo) Get(ctx context.Context, id pgtype.UUID) (Shipment, error) {
	return scanShipment(r.DB.QueryRow(ctx, getShipmentSQL, id))
}

const listShipmentsByOrderSQL = `
SELECT id, order_id, provider_id, provider_type, tracking_id, external_id,
       status, raw_status, metadata, cod_amount, last_checked, created_at, updated_at
FROM shipments
WHERE order_id = $1
ORDER BY created_at DESC`

// ListByOrder returns every shipment attempt recorded for the order, newest first.
func (r ShipmentRepo) ListByOrder(ctx context.Context, orderID pgtype.UUID) ([]Shipment, error) {
	rows, err := r.DB.Query(ctx, listShipmentsByOrderSQL, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateCheckedParams carries the result of a successful courier status fetch.
// PrevUpdatedAt must match the row's current updated_at for the write to apply.
type UpdateCheckedParams struct {
	ID            pgtype.UUID
	Status        ShipmentStatus
	RawStatus     pgtype.Text
	Metadata      []byte
	LastChecked   pgtype.Timestamptz
	PrevUpdatedAt pgtype.Timestamptz
}

const updateShipmentCheckedSQL = `
UPDATE shipments
SET status = $2, raw_status = $3, metadata = $4, last_checked = $5, updated_at = now()
WHERE id = $1 AND updated_at = $6
RETURNING id, order_id, provider_id, provider_type, tracking_id, external_id,
          status, raw_status, metadata, cod_amount, last_checked, created_at, updated_at`

// UpdateChecked applies a fetched status. It returns pgx.ErrNoRows when a
// concurrent refresh already moved updated_at past PrevUpdatedAt.
func (r ShipmentRepo) UpdateChecked(ctx context.Context, arg UpdateCheckedParams) (Shipment, error) {
	metadata := arg.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	row := r.DB.QueryRow(ctx, updateShipmentCheckedSQL,
		arg.ID, arg.Status, arg.RawStatus, metadata, arg.LastChecked, arg.PrevUpdatedAt)
	return scanShipment(row)
}

const deleteShipmentSQL = `DELETE FROM shipments WHERE id = $1`

// Delete removes the shipment row. The courier-side shipment, if any, is left
// untouched: no universal cancel API is assumed.
func (r ShipmentRepo) Delete(ctx context.Context, id pgtype.UUID) (bool, error) {
	tag, err := r.DB.Exec(ctx, deleteShipmentSQL, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const listShipmentsDueSQL = `
SELECT id, order_id, provider_id, provider_type, tracking_id, external_id,
       status, raw_status, metadata, cod_amount, last_checked, created_at, updated_at
FROM shipments
WHERE provider_id IS NOT NULL
  AND status NOT IN ('delivered', 'returned', 'cancelled')
  AND (last_checked IS NULL OR last_checked < $1)
ORDER BY last_checked NULLS FIRST
LIMIT $2`

// ListDueForCheck returns courier-backed shipments whose status has not been
// refreshed since the cutoff. Terminal shipments are never polled again.
func (r ShipmentRepo) ListDueForCheck(ctx context.Context, olderThan time.Time, limit int32) ([]Shipment, error) {
	cutoff := pgtype.Timestamptz{Time: olderThan, Valid: true}
	rows, err := r.DB.Query(ctx, listShipmentsDueSQL, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (Shipment, error) {
	var s Shipment
	err := row.Scan(&s.ID, &s.OrderID, &s.ProviderID, &s.ProviderType, &s.TrackingID,
		&s.ExternalID, &s.Status, &s.RawStatus, &s.Metadata, &s.CODAmount,
		&s.LastChecked, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}
