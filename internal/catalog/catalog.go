// Package catalog exposes read-only lookups for products, variants and
// locations. The catalog itself is owned elsewhere; the inventory core only
// consumes these lookups.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Variant identifies one sellable variation of a product.
type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
}

// Product identifies a catalog product.
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Location identifies a physical stock location.
type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

var (
	// ErrVariantNotFound indicates an unknown variant or SKU.
	ErrVariantNotFound = errors.New("catalog: variant not found")
	// ErrProductNotFound indicates an unknown product.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrLocationNotFound indicates an unknown location.
	ErrLocationNotFound = errors.New("catalog: location not found")
)

// Lookup reads catalog rows from PostgreSQL.
type Lookup struct {
	pool *pgxpool.Pool
}

// NewLookup constructs Lookup.
func NewLookup(pool *pgxpool.Pool) *Lookup {
	return &Lookup{pool: pool}
}

// Variant fetches a variant by id.
func (l *Lookup) Variant(ctx context.Context, id int64) (Variant, error) {
	row := l.pool.QueryRow(ctx, `SELECT id, product_id, sku, name FROM variants WHERE id=$1`, id)
	return scanVariant(row)
}

// VariantBySKU fetches a variant by SKU.
func (l *Lookup) VariantBySKU(ctx context.Context, sku string) (Variant, error) {
	row := l.pool.QueryRow(ctx, `SELECT id, product_id, sku, name FROM variants WHERE sku=$1`, sku)
	return scanVariant(row)
}

// SKU resolves a variant id to its SKU.
func (l *Lookup) SKU(ctx context.Context, variantID int64) (string, error) {
	variant, err := l.Variant(ctx, variantID)
	if err != nil {
		return "", err
	}
	return variant.SKU, nil
}

// Product fetches a product by id.
func (l *Lookup) Product(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := l.pool.QueryRow(ctx, `SELECT id, name, slug FROM products WHERE id=$1`, id).Scan(&p.ID, &p.Name, &p.Slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// Location fetches a location by id.
func (l *Lookup) Location(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := l.pool.QueryRow(ctx, `SELECT id, name, code FROM locations WHERE id=$1`, id).Scan(&loc.ID, &loc.Name, &loc.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	return loc, nil
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, err
	}
	return v, nil
}
