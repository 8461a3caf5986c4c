package costdefaults

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists default costs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the per-variant row, replacing any previous values.
func (r *Repository) Upsert(ctx context.Context, entry DefaultCost) (DefaultCost, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO cost_defaults (variant_id, product_id, supplier, unit_cost, discount, tax, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (variant_id) DO UPDATE SET
  product_id = EXCLUDED.product_id,
  supplier = EXCLUDED.supplier,
  unit_cost = EXCLUDED.unit_cost,
  discount = EXCLUDED.discount,
  tax = EXCLUDED.tax,
  updated_at = NOW()
RETURNING variant_id, product_id, supplier, unit_cost, discount, tax`,
		entry.VariantID, entry.ProductID, entry.Supplier, entry.UnitCost, entry.Discount, entry.Tax)
	var out DefaultCost
	if err := row.Scan(&out.VariantID, &out.ProductID, &out.Supplier, &out.UnitCost, &out.Discount, &out.Tax); err != nil {
		return DefaultCost{}, err
	}
	return out, nil
}

// ByVariant fetches the default cost for one variant.
func (r *Repository) ByVariant(ctx context.Context, variantID int64) (DefaultCost, error) {
	row := r.pool.QueryRow(ctx, `SELECT variant_id, product_id, supplier, unit_cost, discount, tax FROM cost_defaults WHERE variant_id=$1`, variantID)
	var out DefaultCost
	if err := row.Scan(&out.VariantID, &out.ProductID, &out.Supplier, &out.UnitCost, &out.Discount, &out.Tax); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultCost{}, ErrNotFound
		}
		return DefaultCost{}, err
	}
	return out, nil
}

// List returns every default cost row.
func (r *Repository) List(ctx context.Context) ([]DefaultCost, error) {
	rows, err := r.pool.Query(ctx, `SELECT variant_id, product_id, supplier, unit_cost, discount, tax FROM cost_defaults ORDER BY variant_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []DefaultCost
	for rows.Next() {
		var entry DefaultCost
		if err := rows.Scan(&entry.VariantID, &entry.ProductID, &entry.Supplier, &entry.UnitCost, &entry.Discount, &entry.Tax); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
