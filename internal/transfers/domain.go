package transfers

import (
	"errors"
	"time"
)

// Allocation records one source lot's contribution to a moved item and the
// destination lot recreated from it. Destination lots copy the source lot's
// received_at and cost_per_unit so FIFO age survives the move.
type Allocation struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	SourceLotID int64     `json:"source_lot_id"`
	DestLotID   int64     `json:"dest_lot_id"`
	Qty         int64     `json:"qty"`
	CostPerUnit float64   `json:"cost_per_unit"`
	ReceivedAt  time.Time `json:"received_at"`
}

// TransferItem is one moved line. The allocation quantities always sum to Qty.
type TransferItem struct {
	ID          int64        `json:"id"`
	TransferID  int64        `json:"transfer_id"`
	VariantID   int64        `json:"variant_id"`
	ProductID   int64        `json:"product_id"`
	Qty         int64        `json:"qty"`
	Allocations []Allocation `json:"allocations"`
}

// Expense is a shared cost recorded on the transfer document. It never alters
// destination lot costs.
type Expense struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// Transfer moves quantity between locations while preserving cost-layer
// provenance.
type Transfer struct {
	ID             int64          `json:"id"`
	FromLocationID int64          `json:"from_location_id"`
	ToLocationID   int64          `json:"to_location_id"`
	TransferBy     string         `json:"transfer_by"`
	Items          []TransferItem `json:"items"`
	Expenses       []Expense      `json:"expenses_applied"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ItemInput is one line of a transfer request.
type ItemInput struct {
	VariantID int64
	ProductID int64
	Qty       int64
}

// Input describes a transfer request.
type Input struct {
	FromLocationID int64
	ToLocationID   int64
	TransferBy     string
	Items          []ItemInput
	Expenses       []Expense
	IdempotencyKey string
}

// Filter narrows transfer listings.
type Filter struct {
	FromLocationID int64
	ToLocationID   int64
	Page           int
	PerPage        int
}

var (
	// ErrNotFound indicates a missing transfer.
	ErrNotFound = errors.New("transfers: transfer not found")
	// ErrSameLocation rejects a transfer onto itself.
	ErrSameLocation = errors.New("transfers: source and destination must differ")
	// ErrEmptyItems indicates a request without lines.
	ErrEmptyItems = errors.New("transfers: at least one item required")
)
