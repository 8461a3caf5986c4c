package ledger

import (
	"errors"
	"fmt"
	"time"
)

// LotSourceType enumerates how a cost layer entered the ledger.
type LotSourceType string

const (
	// SourcePurchase marks lots created by supplier receipts.
	SourcePurchase LotSourceType = "purchase"
	// SourceTransferIn marks lots recreated at a transfer destination.
	SourceTransferIn LotSourceType = "transfer_in"
	// SourceReturn marks lots created by customer returns.
	SourceReturn LotSourceType = "return"
	// SourceAdjustment marks lots created by manual corrections.
	SourceAdjustment LotSourceType = "adjustment"
)

// LotStatus enumerates lot lifecycle states.
type LotStatus string

const (
	LotStatusActive      LotStatus = "active"
	LotStatusExpired     LotStatus = "expired"
	LotStatusQuarantined LotStatus = "quarantined"
	LotStatusClosed      LotStatus = "closed"
)

// Lot is an immutable-quantity cost layer: N units landed at cost C on date D.
// Only qty_available and status mutate after creation; qty_total and
// cost_per_unit are write-once except for in-place cost correction during a
// purchase edit.
type Lot struct {
	ID           int64         `json:"id"`
	StockID      int64         `json:"stock_id"`
	VariantID    int64         `json:"variant_id"`
	ProductID    int64         `json:"product_id"`
	LocationID   int64         `json:"location_id"`
	LotNumber    string        `json:"lot_number"`
	ReceivedAt   time.Time     `json:"received_at"`
	CostPerUnit  float64       `json:"cost_per_unit"`
	QtyTotal     int64         `json:"qty_total"`
	QtyAvailable int64         `json:"qty_available"`
	SourceType   LotSourceType `json:"source_type"`
	SourceRefID  int64         `json:"source_ref_id"`
	ExpiryDate   *time.Time    `json:"expiry_date,omitempty"`
	Status       LotStatus     `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewLot carries the fields needed to create a cost layer.
type NewLot struct {
	VariantID   int64
	ProductID   int64
	LocationID  int64
	LotNumber   string
	ReceivedAt  time.Time
	CostPerUnit float64
	Qty         int64
	SourceType  LotSourceType
	SourceRefID int64
	ExpiryDate  *time.Time
}

// Stock is the per (product, variant, location) summary row. Its
// available_quantity always equals the sum of qty_available across active
// lots for the same (variant, location); every mutation path updates both
// sides inside one transaction.
type Stock struct {
	ID                int64     `json:"id"`
	ProductID         int64     `json:"product_id"`
	VariantID         int64     `json:"variant_id"`
	LocationID        int64     `json:"location_id"`
	AvailableQuantity int64     `json:"available_quantity"`
	TotalSold         int64     `json:"total_sold"`
	TotalReceived     int64     `json:"total_received"`
	QtyReserved       int64     `json:"qty_reserved"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StockDelta describes an atomic increment applied to a stock row. Absent
// rows are inserted (insert-on-absent upsert); existing rows are incremented
// in place, never read-modify-written.
type StockDelta struct {
	ProductID  int64
	VariantID  int64
	LocationID int64
	Available  int64
	Received   int64
	Sold       int64
}

// Allocation records one lot's contribution to a depletion.
type Allocation struct {
	LotID       int64     `json:"lot_id"`
	LotNumber   string    `json:"lot_number"`
	Qty         int64     `json:"qty"`
	CostPerUnit float64   `json:"cost_per_unit"`
	ReceivedAt  time.Time `json:"received_at"`
}

// AdjustAction enumerates manual correction directions.
type AdjustAction string

const (
	AdjustAddition  AdjustAction = "ADDITION"
	AdjustDeduction AdjustAction = "DEDUCTION"
)

// AdjustItemInput is one line of a manual stock correction.
type AdjustItemInput struct {
	StockID int64
	Qty     int64
}

// AdjustInput describes a manual stock correction request.
type AdjustInput struct {
	Items  []AdjustItemInput
	Action AdjustAction
	Actor  string
	Role   string
	Note   string
}

// AdjustedStock reports the outcome of one corrected line.
type AdjustedStock struct {
	StockID     int64        `json:"stock_id"`
	VariantID   int64        `json:"variant_id"`
	LocationID  int64        `json:"location_id"`
	Action      AdjustAction `json:"action"`
	Qty         int64        `json:"qty"`
	UnitCost    float64      `json:"unit_cost"`
	Allocations []Allocation `json:"allocations,omitempty"`
}

// StockFilter narrows stock listings.
type StockFilter struct {
	LocationID int64
	VariantID  int64
	ProductID  int64
	Page       int
	PerPage    int
}

// StockPatch carries the caller-editable stock fields. Quantity summaries are
// ledger-maintained and cannot be patched.
type StockPatch struct {
	QtyReserved *int64
}

// ReportRow is one line of the full stock report.
type ReportRow struct {
	StockID           int64   `json:"stock_id"`
	SKU               string  `json:"sku"`
	ProductID         int64   `json:"product_id"`
	VariantID         int64   `json:"variant_id"`
	LocationID        int64   `json:"location_id"`
	AvailableQuantity int64   `json:"available_quantity"`
	TotalReceived     int64   `json:"total_received"`
	TotalSold         int64   `json:"total_sold"`
	LotCount          int64   `json:"lot_count"`
	AvgCost           float64 `json:"avg_cost"`
}

// ReportFilter narrows the stock report.
type ReportFilter struct {
	SKU       string
	Threshold int64
	Page      int
	PerPage   int
}

var (
	// ErrStockNotFound indicates a missing stock row.
	ErrStockNotFound = errors.New("ledger: stock not found")
	// ErrLotNotFound indicates a missing lot.
	ErrLotNotFound = errors.New("ledger: lot not found")
	// ErrInvalidQuantity indicates a zero or negative quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInsufficientStock indicates the stock record cannot cover the request.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrLotDesync indicates active lots cannot cover a request the stock
	// record claims is coverable. This is a consistency bug, not a business
	// condition.
	ErrLotDesync = errors.New("ledger: insufficient available lots despite stock record")
	// ErrNoLotForAddition indicates an additive correction found no lot to land on.
	ErrNoLotForAddition = errors.New("ledger: no lot to receive addition")
	// ErrStockNotEmpty blocks deleting a stock row that still has quantity.
	ErrStockNotEmpty = errors.New("ledger: stock row still holds quantity")
)

// InsufficientStockError names the SKU and shortfall for API messages.
type InsufficientStockError struct {
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
