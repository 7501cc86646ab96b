package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// ProviderRepo reads courier provider records. Providers are owned by admin
// configuration and are read-only to this service.
type ProviderRepo struct {
	DB Querier
}

const getProviderSQL = `
SELECT id, name, type, is_active, credentials, config, created_at, updated_at
FROM delivery_providers
WHERE id = $1`

// Get returns the provider row by id.
func (r ProviderRepo) Get(ctx context.Context, id pgtype.UUID) (Provider, error) {
	row := r.DB.QueryRow(ctx, getProviderSQL, id)
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.IsActive, &p.Credentials, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const listActiveProvidersSQL = `
SELECT id, name, type, is_active, credentials, config, created_at, updated_at
FROM delivery_providers
WHERE is_active
ORDER BY name`

// ListActive returns every provider currently enabled for shipment creation.
func (r ProviderRepo) ListActive(ctx context.Context) ([]Provider, error) {
	rows, err := r.DB.Query(ctx, listActiveProvidersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.IsActive, &p.Credentials, &p.Config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
