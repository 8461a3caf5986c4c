package purchases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id int64) (Purchase, error)
	List(ctx context.Context, filter Filter) ([]Purchase, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultCostReader reads the per-variant default cost for barcode intake.
type DefaultCostReader interface {
	ByVariant(ctx context.Context, variantID int64) (costdefaults.DefaultCost, error)
}

// IdempotencyPort guards the conversion flow against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// VariantLookup resolves a variant's SKU for error messages.
type VariantLookup interface {
	SKU(ctx context.Context, variantID int64) (string, error)
}

// Service owns purchase intake: supplier receipts, edits with lot
// reconciliation, and the barcode-to-purchase conversion.
type Service struct {
	repo        RepositoryPort
	costs       DefaultCostReader
	audit       AuditPort
	idempotency IdempotencyPort
	variants    VariantLookup
	reports     *ledger.ReportCache
	now         func() time.Time
}

// NewService builds Service. audit, idempotency, variants and reports may be nil.
func NewService(repo RepositoryPort, costs DefaultCostReader, audit AuditPort, idempotency IdempotencyPort, variants VariantLookup, reports *ledger.ReportCache) *Service {
	return &Service{
		repo:        repo,
		costs:       costs,
		audit:       audit,
		idempotency: idempotency,
		variants:    variants,
		reports:     reports,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create records a supplier receipt: one purchase document, one lot per item
// at its effective unit cost, and the matching stock increments, all in one
// transaction.
func (s *Service) Create(ctx context.Context, input CreateInput) (Purchase, error) {
	if input.LocationID <= 0 {
		return Purchase{}, ErrLocationRequired
	}
	if len(input.Items) == 0 {
		return Purchase{}, ErrEmptyItems
	}
	for _, item := range input.Items {
		if item.VariantID <= 0 || item.ProductID <= 0 {
			return Purchase{}, errors.New("purchases: item requires product and variant")
		}
		if item.Qty <= 0 {
			return Purchase{}, ledger.ErrInvalidQuantity
		}
		if item.UnitCost < 0 {
			return Purchase{}, errors.New("purchases: unit cost must not be negative")
		}
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = s.now()
	}
	if input.PurchaseDate.IsZero() {
		input.PurchaseDate = input.ReceivedAt
	}
	costs, total, err := ComputeCosts(input.Items, input.Expenses)
	if err != nil {
		return Purchase{}, err
	}

	var purchase Purchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, input.LocationID)
		if err != nil {
			return err
		}
		purchase = Purchase{
			PurchaseNumber: number,
			LocationID:     input.LocationID,
			CreatedBy:      input.CreatedBy,
			ReceivedBy:     input.ReceivedBy,
			ReceivedAt:     input.ReceivedAt,
			PurchaseDate:   input.PurchaseDate,
			Supplier:       input.Supplier,
			TotalCost:      total,
			Status:         StatusReceived,
			Expenses:       input.Expenses,
		}
		for i, item := range input.Items {
			purchase.Items = append(purchase.Items, PurchaseItem{
				VariantID:         item.VariantID,
				ProductID:         item.ProductID,
				Qty:               item.Qty,
				UnitCost:          item.UnitCost,
				Discount:          item.Discount,
				Tax:               item.Tax,
				LotNumber:         item.LotNumber,
				ExpiryDate:        item.ExpiryDate,
				EffectiveUnitCost: costs[i].EffectiveUnitCost,
			})
		}
		if err := tx.InsertPurchase(ctx, &purchase); err != nil {
			return err
		}
		for i := range purchase.Items {
			item := &purchase.Items[i]
			if item.LotNumber == "" {
				item.LotNumber = lotNumber(purchase.LocationID, number, item.VariantID)
			}
			lot, err := tx.CreateLot(ctx, ledger.NewLot{
				VariantID:   item.VariantID,
				ProductID:   item.ProductID,
				LocationID:  purchase.LocationID,
				LotNumber:   item.LotNumber,
				ReceivedAt:  purchase.ReceivedAt,
				CostPerUnit: item.EffectiveUnitCost,
				Qty:         item.Qty,
				SourceType:  ledger.SourcePurchase,
				SourceRefID: purchase.ID,
				ExpiryDate:  item.ExpiryDate,
			})
			if err != nil {
				return err
			}
			item.LotID = lot.ID
			if err := tx.SetItemLot(ctx, item.ID, lot.ID); err != nil {
				return err
			}
			if _, err := tx.ApplyStockDelta(ctx, ledger.StockDelta{
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				LocationID: purchase.LocationID,
				Available:  item.Qty,
				Received:   item.Qty,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "purchase:create", purchase.ID, map[string]any{
		"purchase_number": purchase.PurchaseNumber,
		"location_id":     purchase.LocationID,
		"total_cost":      purchase.TotalCost,
	})
	s.invalidateReports(ctx)
	return purchase, nil
}

// Update recomputes costs for the new lines, then reconciles the quantity
// delta per variant against the lots this purchase created. No change rewrites
// lot costs in place; an increase appends a lot; a decrease drains this
// purchase's lots newest first, failing when downstream consumption already
// ate the quantity being retracted.
func (s *Service) Update(ctx context.Context, id int64, items []ItemInput, expenses []Expense, actor string) (Purchase, error) {
	costs, total, err := ComputeCosts(items, expenses)
	if err != nil {
		return Purchase{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == StatusCancelled {
			return ErrInvalidTransition
		}

		oldQty := make(map[int64]int64, len(current.Items))
		for _, item := range current.Items {
			oldQty[item.VariantID] += item.Qty
		}

		// A document may carry several lines of one variant, but its lots are
		// keyed per variant, so reconciliation aggregates the lines first and
		// runs once per variant.
		newQty := make(map[int64]int64, len(items))
		costSum := make(map[int64]float64, len(items))
		for i, item := range items {
			newQty[item.VariantID] += item.Qty
			costSum[item.VariantID] += costs[i].ItemTotal + costs[i].Apportioned
		}

		newItems := make([]PurchaseItem, 0, len(items))
		lotByVariant := make(map[int64]int64, len(items))
		reconciled := make(map[int64]bool, len(items))
		for i, item := range items {
			row := PurchaseItem{
				VariantID:         item.VariantID,
				ProductID:         item.ProductID,
				Qty:               item.Qty,
				UnitCost:          item.UnitCost,
				Discount:          item.Discount,
				Tax:               item.Tax,
				LotNumber:         item.LotNumber,
				ExpiryDate:        item.ExpiryDate,
				EffectiveUnitCost: costs[i].EffectiveUnitCost,
			}
			if !reconciled[item.VariantID] {
				reconciled[item.VariantID] = true
				unitCost := costSum[item.VariantID] / float64(newQty[item.VariantID])

				existing, err := tx.LockSourceLots(ctx, ledger.SourcePurchase, current.ID, item.VariantID, current.LocationID)
				if err != nil {
					return err
				}
				for _, lot := range existing {
					if err := tx.SetLotCost(ctx, lot.ID, unitCost); err != nil {
						return err
					}
					if lotByVariant[item.VariantID] == 0 {
						lotByVariant[item.VariantID] = lot.ID
					}
				}

				delta := newQty[item.VariantID] - oldQty[item.VariantID]
				switch {
				case delta > 0:
					if row.LotNumber == "" {
						row.LotNumber = lotNumber(current.LocationID, current.PurchaseNumber, item.VariantID)
					}
					lot, err := tx.CreateLot(ctx, ledger.NewLot{
						VariantID:   item.VariantID,
						ProductID:   item.ProductID,
						LocationID:  current.LocationID,
						LotNumber:   row.LotNumber,
						ReceivedAt:  current.ReceivedAt,
						CostPerUnit: unitCost,
						Qty:         delta,
						SourceType:  ledger.SourcePurchase,
						SourceRefID: current.ID,
						ExpiryDate:  item.ExpiryDate,
					})
					if err != nil {
						return err
					}
					lotByVariant[item.VariantID] = lot.ID
					if _, err := tx.ApplyStockDelta(ctx, ledger.StockDelta{
						ProductID:  item.ProductID,
						VariantID:  item.VariantID,
						LocationID: current.LocationID,
						Available:  delta,
						Received:   delta,
					}); err != nil {
						return err
					}
				case delta < 0:
					if err := s.retract(ctx, tx, current, item.VariantID, item.ProductID, -delta); err != nil {
						return err
					}
				}
			}
			row.LotID = lotByVariant[item.VariantID]
			newItems = append(newItems, row)
		}

		// Variants dropped from the document are retracted entirely.
		for _, item := range current.Items {
			if _, kept := newQty[item.VariantID]; kept || reconciled[item.VariantID] {
				continue
			}
			reconciled[item.VariantID] = true
			if err := s.retract(ctx, tx, current, item.VariantID, item.ProductID, oldQty[item.VariantID]); err != nil {
				return err
			}
		}

		return tx.ReplaceItems(ctx, current.ID, newItems, expenses, total)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, actor, "purchase:update", id, map[string]any{"total_cost": total})
	s.invalidateReports(ctx)
	return s.repo.GetByID(ctx, id)
}

// retract drains qty from the purchase's own lots, newest first, and applies
// the matching stock decrement. A shortfall means the quantity was already
// consumed downstream.
func (s *Service) retract(ctx context.Context, tx TxRepository, p Purchase, variantID, productID, qty int64) error {
	_, err := ledger.DrainSourceLots(ctx, tx, ledger.SourcePurchase, p.ID, s.skuFor(ctx, variantID), variantID, p.LocationID, qty)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientStock) {
			return fmt.Errorf("%w: %s", ErrConsumed, err)
		}
		return err
	}
	_, err = tx.ApplyStockDelta(ctx, ledger.StockDelta{
		ProductID:  productID,
		VariantID:  variantID,
		LocationID: p.LocationID,
		Available:  -qty,
		Received:   -qty,
	})
	return err
}

// Delete reverses the purchase completely, draining every lot it created and
// removing the document. Fails when any of its stock was already consumed.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		qtyByVariant := make(map[int64]int64, len(current.Items))
		productByVariant := make(map[int64]int64, len(current.Items))
		for _, item := range current.Items {
			qtyByVariant[item.VariantID] += item.Qty
			productByVariant[item.VariantID] = item.ProductID
		}
		for variantID, qty := range qtyByVariant {
			if err := s.retract(ctx, tx, current, variantID, productByVariant[variantID], qty); err != nil {
				return err
			}
		}
		return tx.DeletePurchase(ctx, current.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchase:delete", id, nil)
	s.invalidateReports(ctx)
	return nil
}

// UpdateStatus moves the document through pending -> received -> cancelled.
// Pure metadata: lots and stock are untouched.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status, actor string) (Purchase, error) {
	if status != StatusPending && status != StatusReceived && status != StatusCancelled {
		return Purchase{}, ErrInvalidTransition
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(status) {
			return ErrInvalidTransition
		}
		return tx.SetStatus(ctx, id, status)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, actor, "purchase:status", id, map[string]any{"status": string(status)})
	return s.repo.GetByID(ctx, id)
}

// GetByID fetches one purchase with lines.
func (s *Service) GetByID(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetByID(ctx, id)
}

// List pages through purchases.
func (s *Service) List(ctx context.Context, filter Filter) ([]Purchase, shared.Pagination, error) {
	out, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CreateFromBarcodes folds a set of registered, unused barcodes into one
// purchase: one synthetic item and one lot per (product, variant) group,
// priced from the default-cost registry, numbered from the same per-location
// counter as a direct receipt, with every barcode flipped to used exactly
// once. The whole conversion is one transaction; a barcode or pricing problem
// means nothing lands.
func (s *Service) CreateFromBarcodes(ctx context.Context, input BarcodeIntakeInput) (Purchase, []barcodes.Barcode, error) {
	if len(input.Codes) == 0 {
		return Purchase{}, nil, ErrEmptyBarcodes
	}
	if input.LocationID <= 0 {
		return Purchase{}, nil, ErrLocationRequired
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	if input.ReceivedBy == "" {
		input.ReceivedBy = input.Actor
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "purchases"); err != nil {
			return Purchase{}, nil, err
		}
	}

	var purchase Purchase
	var updated []barcodes.Barcode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockUnusedBarcodes(ctx, input.Codes)
		if err != nil {
			return err
		}

		type group struct {
			variantID int64
			productID int64
			sku       string
			codes     []string
		}
		var groups []*group
		index := make(map[int64]*group)
		for _, b := range locked {
			g, ok := index[b.VariantID]
			if !ok {
				g = &group{variantID: b.VariantID, productID: b.ProductID, sku: b.SKU}
				index[b.VariantID] = g
				groups = append(groups, g)
			}
			g.codes = append(g.codes, b.Code)
		}

		// Pricing must be complete for every group before anything is written.
		items := make([]ItemInput, 0, len(groups))
		var suppliers []string
		supplierSeen := map[string]bool{}
		for _, g := range groups {
			dc, err := s.costs.ByVariant(ctx, g.variantID)
			if err != nil {
				if errors.Is(err, costdefaults.ErrNotFound) {
					return fmt.Errorf("%w for %s", costdefaults.ErrIncomplete, g.sku)
				}
				return err
			}
			if err := dc.Validate(); err != nil {
				return fmt.Errorf("%w for %s", err, g.sku)
			}
			if !supplierSeen[dc.Supplier] {
				supplierSeen[dc.Supplier] = true
				suppliers = append(suppliers, dc.Supplier)
			}
			items = append(items, ItemInput{
				VariantID: g.variantID,
				ProductID: g.productID,
				Qty:       int64(len(g.codes)),
				UnitCost:  dc.UnitCost,
				Discount:  dc.Discount,
				Tax:       dc.Tax,
			})
		}
		costs, total, err := ComputeCosts(items, nil)
		if err != nil {
			return err
		}

		number, err := tx.NextNumber(ctx, input.LocationID)
		if err != nil {
			return err
		}
		purchase = Purchase{
			PurchaseNumber: number,
			LocationID:     input.LocationID,
			CreatedBy:      input.Actor,
			ReceivedBy:     input.ReceivedBy,
			ReceivedAt:     input.Date,
			PurchaseDate:   input.Date,
			Supplier:       strings.Join(suppliers, ", "),
			TotalCost:      total,
			Status:         StatusReceived,
		}
		for i, item := range items {
			purchase.Items = append(purchase.Items, PurchaseItem{
				VariantID:         item.VariantID,
				ProductID:         item.ProductID,
				Qty:               item.Qty,
				UnitCost:          item.UnitCost,
				Discount:          item.Discount,
				Tax:               item.Tax,
				EffectiveUnitCost: costs[i].EffectiveUnitCost,
			})
		}
		if err := tx.InsertPurchase(ctx, &purchase); err != nil {
			return err
		}

		updated = updated[:0]
		for i, g := range groups {
			item := &purchase.Items[i]
			item.LotNumber = lotNumber(input.LocationID, number, g.variantID)
			lot, err := tx.CreateLot(ctx, ledger.NewLot{
				VariantID:   g.variantID,
				ProductID:   g.productID,
				LocationID:  input.LocationID,
				LotNumber:   item.LotNumber,
				ReceivedAt:  input.Date,
				CostPerUnit: item.EffectiveUnitCost,
				Qty:         item.Qty,
				SourceType:  ledger.SourcePurchase,
				SourceRefID: purchase.ID,
			})
			if err != nil {
				return err
			}
			item.LotID = lot.ID
			if err := tx.SetItemLot(ctx, item.ID, lot.ID); err != nil {
				return err
			}
			stock, err := tx.ApplyStockDelta(ctx, ledger.StockDelta{
				ProductID:  g.productID,
				VariantID:  g.variantID,
				LocationID: input.LocationID,
				Available:  item.Qty,
				Received:   item.Qty,
			})
			if err != nil {
				return err
			}
			entry := barcodes.UpdatedLog{
				Name:          input.Actor,
				Date:          input.Date,
				AdminNote:     input.Note,
				SystemMessage: fmt.Sprintf("folded into purchase %d (lot %d, stock %d)", purchase.ID, lot.ID, stock.ID),
			}
			if err := tx.MarkBarcodesUsed(ctx, g.codes, lot.ID, stock.ID, entry); err != nil {
				return err
			}
			for _, b := range locked {
				if b.VariantID != g.variantID {
					continue
				}
				b.IsUsed = true
				b.Status = barcodes.StatusInStock
				lotID, stockID := lot.ID, stock.ID
				b.LotID, b.StockID = &lotID, &stockID
				b.UpdatedLogs = append([]barcodes.UpdatedLog{entry}, b.UpdatedLogs...)
				updated = append(updated, b)
			}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Purchase{}, nil, err
	}
	s.recordAudit(ctx, input.Actor, "purchase:from_barcodes", purchase.ID, map[string]any{
		"purchase_number": purchase.PurchaseNumber,
		"barcodes":        len(input.Codes),
	})
	s.invalidateReports(ctx)
	return purchase, updated, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "purchase",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports != nil {
		s.reports.Invalidate(ctx)
	}
}

func (s *Service) skuFor(ctx context.Context, variantID int64) string {
	if s.variants != nil {
		if sku, err := s.variants.SKU(ctx, variantID); err == nil && sku != "" {
			return sku
		}
	}
	return fmt.Sprintf("variant:%d", variantID)
}

func lotNumber(locationID, purchaseNumber, variantID int64) string {
	return fmt.Sprintf("PO-%d-%d-%d", locationID, purchaseNumber, variantID)
}
