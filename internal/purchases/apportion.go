package purchases

import (
	"math"

	"github.com/loomcart/loomcart/internal/ledger"
)

// ItemCost is the computed cost breakdown of one purchase line.
type ItemCost struct {
	ItemTotal         float64
	Apportioned       float64
	EffectiveUnitCost float64
}

// ComputeCosts derives each line's total (qty*unit_cost - discount + tax),
// apportions shared expenses pro-rata by the line's share of the grand item
// total, and folds the apportioned amount into the effective unit cost baked
// into the line's lot. Returns the per-line breakdown and the document total.
func ComputeCosts(items []ItemInput, expenses []Expense) ([]ItemCost, float64, error) {
	if len(items) == 0 {
		return nil, 0, ErrEmptyItems
	}
	var grand float64
	costs := make([]ItemCost, len(items))
	for i, item := range items {
		if item.Qty <= 0 {
			return nil, 0, ledger.ErrInvalidQuantity
		}
		costs[i].ItemTotal = float64(item.Qty)*item.UnitCost - item.Discount + item.Tax
		grand += costs[i].ItemTotal
	}
	var expenseSum float64
	for _, expense := range expenses {
		expenseSum += expense.Amount
	}
	for i, item := range items {
		share := 1.0 / float64(len(items))
		if grand != 0 {
			share = costs[i].ItemTotal / grand
		}
		costs[i].Apportioned = expenseSum * share
		costs[i].EffectiveUnitCost = (costs[i].ItemTotal + costs[i].Apportioned) / float64(item.Qty)
	}
	return costs, round2(grand + expenseSum), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
