package transfers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter Filter) ([]Transfer, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards transfer posting against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// VariantLookup resolves a variant's SKU for error messages.
type VariantLookup interface {
	SKU(ctx context.Context, variantID int64) (string, error)
}

// Service owns multi-location stock reallocation.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	variants    VariantLookup
	reports     *ledger.ReportCache
}

// NewService builds Service. audit, idempotency, variants and reports may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idempotency IdempotencyPort, variants VariantLookup, reports *ledger.ReportCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idempotency, variants: variants, reports: reports}
}

// Transfer moves the requested quantities from one location to another. Each
// item is consumed FIFO at the source; every consumed slice is recreated as a
// destination lot carrying the source lot's received_at and cost_per_unit, so
// the layer keeps its age and cost across the move. The old lot closes or
// depletes in place at the source, preserving its audit history there. The
// whole multi-item, multi-lot move is one transaction.
func (s *Service) Transfer(ctx context.Context, input Input) (Transfer, error) {
	if input.FromLocationID <= 0 || input.ToLocationID <= 0 {
		return Transfer{}, errors.New("transfers: from and to locations required")
	}
	if input.FromLocationID == input.ToLocationID {
		return Transfer{}, ErrSameLocation
	}
	if len(input.Items) == 0 {
		return Transfer{}, ErrEmptyItems
	}
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return Transfer{}, ledger.ErrInvalidQuantity
		}
		if item.VariantID <= 0 {
			return Transfer{}, ledger.ErrStockNotFound
		}
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "transfers"); err != nil {
			return Transfer{}, err
		}
	}

	var transfer Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer = Transfer{
			FromLocationID: input.FromLocationID,
			ToLocationID:   input.ToLocationID,
			TransferBy:     input.TransferBy,
			Expenses:       input.Expenses,
		}
		for _, item := range input.Items {
			consumed, err := ledger.ConsumeFIFO(ctx, tx, s.skuFor(ctx, item.VariantID), item.VariantID, input.FromLocationID, item.Qty)
			if err != nil {
				return err
			}
			if _, err := tx.ApplyStockDelta(ctx, ledger.StockDelta{
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				LocationID: input.FromLocationID,
				Available:  -item.Qty,
			}); err != nil {
				return err
			}

			line := TransferItem{VariantID: item.VariantID, ProductID: item.ProductID, Qty: item.Qty}
			for _, alloc := range consumed {
				destLot, err := tx.CreateLot(ctx, ledger.NewLot{
					VariantID:   item.VariantID,
					ProductID:   item.ProductID,
					LocationID:  input.ToLocationID,
					LotNumber:   alloc.LotNumber,
					ReceivedAt:  alloc.ReceivedAt,
					CostPerUnit: alloc.CostPerUnit,
					Qty:         alloc.Qty,
					SourceType:  ledger.SourceTransferIn,
					SourceRefID: alloc.LotID,
				})
				if err != nil {
					return err
				}
				line.Allocations = append(line.Allocations, Allocation{
					SourceLotID: alloc.LotID,
					DestLotID:   destLot.ID,
					Qty:         alloc.Qty,
					CostPerUnit: alloc.CostPerUnit,
					ReceivedAt:  alloc.ReceivedAt,
				})
			}
			if _, err := tx.ApplyStockDelta(ctx, ledger.StockDelta{
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				LocationID: input.ToLocationID,
				Available:  item.Qty,
				Received:   item.Qty,
			}); err != nil {
				return err
			}
			transfer.Items = append(transfer.Items, line)
		}
		return tx.InsertTransfer(ctx, &transfer)
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Transfer{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.TransferBy,
			Action:   "transfer:post",
			Entity:   "transfer",
			EntityID: strconv.FormatInt(transfer.ID, 10),
			Meta: map[string]any{
				"from":  input.FromLocationID,
				"to":    input.ToLocationID,
				"items": len(input.Items),
			},
		})
	}
	if s.reports != nil {
		s.reports.Invalidate(ctx)
	}
	return transfer, nil
}

// GetByID fetches one transfer with its allocation breakdown.
func (s *Service) GetByID(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetByID(ctx, id)
}

// List pages through transfer headers.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transfer, shared.Pagination, error) {
	out, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) skuFor(ctx context.Context, variantID int64) string {
	if s.variants != nil {
		if sku, err := s.variants.SKU(ctx, variantID); err == nil && sku != "" {
			return sku
		}
	}
	return fmt.Sprintf("variant:%d", variantID)
}
