package ledger

import (
	"context"
)

// ConsumeFIFO depletes qty units from the (variant, location) cost layers in
// strict chronological order. The stock row is read first as a fast-fail
// guard; the lots themselves are then locked and drained oldest first,
// closing each lot that reaches zero. The caller applies the matching stock
// delta in the same transaction.
//
// A shortfall against the stock record returns *InsufficientStockError. A
// shortfall against the lots when the stock record claimed coverage returns
// ErrLotDesync: the ledger is inconsistent and the transaction must abort.
func ConsumeFIFO(ctx context.Context, tx Tx, sku string, variantID, locationID, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	stock, err := tx.GetStockForUpdate(ctx, variantID, locationID)
	if err != nil {
		return nil, err
	}
	if stock.AvailableQuantity < qty {
		return nil, &InsufficientStockError{SKU: sku, Requested: qty, Available: stock.AvailableQuantity}
	}

	lots, err := tx.LockActiveLots(ctx, variantID, locationID)
	if err != nil {
		return nil, err
	}

	remaining := qty
	var allocations []Allocation
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := remaining
		if lot.QtyAvailable < take {
			take = lot.QtyAvailable
		}
		left := lot.QtyAvailable - take
		status := lot.Status
		if left == 0 {
			status = LotStatusClosed
		}
		if err := tx.SetLotAvailability(ctx, lot.ID, left, status); err != nil {
			return nil, err
		}
		allocations = append(allocations, Allocation{
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Qty:         take,
			CostPerUnit: lot.CostPerUnit,
			ReceivedAt:  lot.ReceivedAt,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, ErrLotDesync
	}
	return allocations, nil
}

// DrainSourceLots retracts qty units from the lots a specific source created,
// newest first. A purchase edit retracts the most recently entered stock
// first, which is intentionally the reverse of normal FIFO consumption.
func DrainSourceLots(ctx context.Context, tx Tx, source LotSourceType, refID int64, sku string, variantID, locationID, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	lots, err := tx.LockSourceLots(ctx, source, refID, variantID, locationID)
	if err != nil {
		return nil, err
	}

	available := int64(0)
	for _, lot := range lots {
		available += lot.QtyAvailable
	}
	if available < qty {
		return nil, &InsufficientStockError{SKU: sku, Requested: qty, Available: available}
	}

	remaining := qty
	var drained []Allocation
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.QtyAvailable == 0 {
			continue
		}
		take := remaining
		if lot.QtyAvailable < take {
			take = lot.QtyAvailable
		}
		left := lot.QtyAvailable - take
		status := lot.Status
		if left == 0 {
			status = LotStatusClosed
		}
		if err := tx.SetLotAvailability(ctx, lot.ID, left, status); err != nil {
			return nil, err
		}
		drained = append(drained, Allocation{
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Qty:         take,
			CostPerUnit: lot.CostPerUnit,
			ReceivedAt:  lot.ReceivedAt,
		})
		remaining -= take
	}
	return drained, nil
}

// WeightedUnitCost averages allocation costs by quantity.
func WeightedUnitCost(allocations []Allocation) float64 {
	var qty int64
	var cost float64
	for _, alloc := range allocations {
		qty += alloc.Qty
		cost += float64(alloc.Qty) * alloc.CostPerUnit
	}
	if qty == 0 {
		return 0
	}
	return cost / float64(qty)
}
