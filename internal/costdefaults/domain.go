package costdefaults

import "errors"

// DefaultCost is the per-variant fallback cost and supplier consulted when a
// barcode-only intake lacks explicit pricing. One row per variant, upserted.
type DefaultCost struct {
	VariantID int64   `json:"variant_id"`
	ProductID int64   `json:"product_id"`
	Supplier  string  `json:"supplier,omitempty"`
	UnitCost  float64 `json:"unit_cost"`
	Discount  float64 `json:"discount"`
	Tax       float64 `json:"tax"`
}

var (
	// ErrNotFound indicates no default cost exists for the variant.
	ErrNotFound = errors.New("costdefaults: not found")
	// ErrIncomplete indicates a default cost missing unit cost or supplier,
	// which blocks barcode-based intake for the variant.
	ErrIncomplete = errors.New("costdefaults: unit cost and supplier required")
)

// Validate reports whether the entry can price a barcode intake.
func (d DefaultCost) Validate() error {
	if d.UnitCost <= 0 || d.Supplier == "" {
		return ErrIncomplete
	}
	return nil
}
