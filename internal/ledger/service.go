package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/loomcart/loomcart/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetStock(ctx context.Context, id int64) (Stock, error)
	ListStocks(ctx context.Context, filter StockFilter) ([]Stock, int, error)
	GetStocksByProductSlug(ctx context.Context, slug string) ([]Stock, error)
	UpdateStock(ctx context.Context, id int64, patch StockPatch) (Stock, error)
	DeleteStock(ctx context.Context, id int64) error
	FullStockReport(ctx context.Context, filter ReportFilter) ([]ReportRow, int, error)
	LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ReportRow, int, error)
	ListLotsByStock(ctx context.Context, variantID, locationID int64) ([]Lot, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// VariantLookup resolves a variant's SKU for error messages.
type VariantLookup interface {
	SKU(ctx context.Context, variantID int64) (string, error)
}

// Service owns stock queries and manual corrections. All lot/stock writes of
// sibling modules also run through this package's Tx surface.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	variants VariantLookup
	reports  *ReportCache
}

// NewService builds Service. audit, variants and reports may be nil.
func NewService(repo RepositoryPort, audit AuditPort, variants VariantLookup, reports *ReportCache) *Service {
	return &Service{repo: repo, audit: audit, variants: variants, reports: reports}
}

// ListStocks lists stock rows with pagination metadata.
func (s *Service) ListStocks(ctx context.Context, filter StockFilter) ([]Stock, shared.Pagination, error) {
	stocks, total, err := s.repo.ListStocks(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return stocks, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetStockByProduct returns every stock row of a product addressed by slug.
func (s *Service) GetStockByProduct(ctx context.Context, slug string) ([]Stock, error) {
	if slug == "" {
		return nil, errors.New("ledger: product slug required")
	}
	return s.repo.GetStocksByProductSlug(ctx, slug)
}

// UpdateStock patches caller-editable fields of a stock row.
func (s *Service) UpdateStock(ctx context.Context, id int64, patch StockPatch) (Stock, error) {
	if id <= 0 {
		return Stock{}, ErrStockNotFound
	}
	if patch.QtyReserved != nil && *patch.QtyReserved < 0 {
		return Stock{}, ErrInvalidQuantity
	}
	return s.repo.UpdateStock(ctx, id, patch)
}

// DeleteStock removes an empty stock row.
func (s *Service) DeleteStock(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrStockNotFound
	}
	return s.repo.DeleteStock(ctx, id)
}

// ListLots exposes a stock row's cost layers, oldest first.
func (s *Service) ListLots(ctx context.Context, stockID int64) ([]Lot, error) {
	stock, err := s.repo.GetStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLotsByStock(ctx, stock.VariantID, stock.LocationID)
}

// FullStockReport serves the stock report, through the read cache when wired.
func (s *Service) FullStockReport(ctx context.Context, filter ReportFilter) ([]ReportRow, shared.Pagination, error) {
	if s.reports != nil {
		if rows, total, ok := s.reports.Get(ctx, filter); ok {
			return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
		}
	}
	rows, total, err := s.repo.FullStockReport(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if s.reports != nil {
		s.reports.Set(ctx, filter, rows, total)
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// LowStock lists rows at or under the threshold.
func (s *Service) LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ReportRow, shared.Pagination, error) {
	if threshold <= 0 {
		threshold = 10
	}
	rows, total, err := s.repo.LowStock(ctx, threshold, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(page, perPage, total), nil
}

// Adjust applies a manual stock correction. DEDUCTION consumes active lots
// FIFO exactly as a sale would and reports the weighted average unit cost.
// ADDITION lands on the most recently received lot only, reopening it when
// closed and reusing that lot's cost. The asymmetry is deliberate and must
// not be unified.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) ([]AdjustedStock, error) {
	if len(input.Items) == 0 {
		return nil, errors.New("ledger: adjustment requires at least one item")
	}
	if input.Action != AdjustAddition && input.Action != AdjustDeduction {
		return nil, fmt.Errorf("ledger: unknown adjustment action %q", input.Action)
	}
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.StockID <= 0 {
			return nil, ErrStockNotFound
		}
	}

	var results []AdjustedStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		results = results[:0]
		for _, item := range input.Items {
			stock, err := tx.GetStockByIDForUpdate(ctx, item.StockID)
			if err != nil {
				return err
			}
			adjusted := AdjustedStock{
				StockID:    stock.ID,
				VariantID:  stock.VariantID,
				LocationID: stock.LocationID,
				Action:     input.Action,
				Qty:        item.Qty,
			}
			switch input.Action {
			case AdjustDeduction:
				allocations, err := ConsumeFIFO(ctx, tx, s.skuFor(ctx, stock.VariantID), stock.VariantID, stock.LocationID, item.Qty)
				if err != nil {
					return err
				}
				if _, err := tx.ApplyStockDelta(ctx, StockDelta{
					ProductID:  stock.ProductID,
					VariantID:  stock.VariantID,
					LocationID: stock.LocationID,
					Available:  -item.Qty,
				}); err != nil {
					return err
				}
				adjusted.Allocations = allocations
				adjusted.UnitCost = WeightedUnitCost(allocations)
			case AdjustAddition:
				lot, err := tx.LockNewestLot(ctx, stock.VariantID, stock.LocationID)
				if err != nil {
					return err
				}
				if _, err := tx.ReceiveIntoLot(ctx, lot.ID, item.Qty); err != nil {
					return err
				}
				if _, err := tx.ApplyStockDelta(ctx, StockDelta{
					ProductID:  stock.ProductID,
					VariantID:  stock.VariantID,
					LocationID: stock.LocationID,
					Available:  item.Qty,
				}); err != nil {
					return err
				}
				adjusted.UnitCost = lot.CostPerUnit
				adjusted.Allocations = []Allocation{{LotID: lot.ID, LotNumber: lot.LotNumber, Qty: item.Qty, CostPerUnit: lot.CostPerUnit, ReceivedAt: lot.ReceivedAt}}
			}
			results = append(results, adjusted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		for _, adjusted := range results {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Actor:    input.Actor,
				Role:     input.Role,
				Action:   fmt.Sprintf("stock:adjust:%s", input.Action),
				Entity:   "stock",
				EntityID: strconv.FormatInt(adjusted.StockID, 10),
				Meta: map[string]any{
					"qty":       adjusted.Qty,
					"unit_cost": adjusted.UnitCost,
					"note":      input.Note,
				},
			})
		}
	}
	if s.reports != nil {
		s.reports.Invalidate(ctx)
	}
	return results, nil
}

// ExpireLots marks past-expiry active lots expired and removes their remaining
// availability from the stock summary, all in one transaction. Returns the
// number of lots expired.
func (s *Service) ExpireLots(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	expired := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		lots, err := tx.LockExpiredLots(ctx, asOf)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if err := tx.SetLotStatus(ctx, lot.ID, LotStatusExpired); err != nil {
				return err
			}
			if lot.QtyAvailable > 0 {
				if _, err := tx.ApplyStockDelta(ctx, StockDelta{
					ProductID:  lot.ProductID,
					VariantID:  lot.VariantID,
					LocationID: lot.LocationID,
					Available:  -lot.QtyAvailable,
				}); err != nil {
					return err
				}
			}
		}
		expired = len(lots)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 && s.reports != nil {
		s.reports.Invalidate(ctx)
	}
	return expired, nil
}

func (s *Service) skuFor(ctx context.Context, variantID int64) string {
	if s.variants != nil {
		if sku, err := s.variants.SKU(ctx, variantID); err == nil && sku != "" {
			return sku
		}
	}
	return fmt.Sprintf("variant:%d", variantID)
}
