package purchases

import (
	"errors"
	"time"
)

// Status enumerates purchase document states. Status is metadata only: lot and
// stock effects happen at create/update/delete time, never on a status change.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether the document may move from s to next.
// Cancelled is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusReceived || next == StatusCancelled
	case StatusReceived:
		return next == StatusCancelled
	default:
		return false
	}
}

// Expense is a shared cost applied to a purchase and apportioned across items.
type Expense struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// PurchaseItem is one received line. Each item deterministically produces
// exactly one lot on creation; LotID links them.
type PurchaseItem struct {
	ID                int64      `json:"id"`
	PurchaseID        int64      `json:"purchase_id"`
	VariantID         int64      `json:"variant_id"`
	ProductID         int64      `json:"product_id"`
	Qty               int64      `json:"qty"`
	UnitCost          float64    `json:"unit_cost"`
	Discount          float64    `json:"discount"`
	Tax               float64    `json:"tax"`
	LotNumber         string     `json:"lot_number,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	EffectiveUnitCost float64    `json:"effective_unit_cost"`
	LotID             int64      `json:"lot_id,omitempty"`
}

// Purchase is a supplier receipt at one location.
type Purchase struct {
	ID             int64          `json:"id"`
	PurchaseNumber int64          `json:"purchase_number"`
	LocationID     int64          `json:"location_id"`
	CreatedBy      string         `json:"created_by"`
	ReceivedBy     string         `json:"received_by"`
	ReceivedAt     time.Time      `json:"received_at"`
	PurchaseDate   time.Time      `json:"purchase_date"`
	Supplier       string         `json:"supplier,omitempty"`
	TotalCost      float64        `json:"total_cost"`
	Status         Status         `json:"status"`
	Items          []PurchaseItem `json:"items"`
	Expenses       []Expense      `json:"expenses_applied"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ItemInput is one line of a purchase draft.
type ItemInput struct {
	VariantID  int64
	ProductID  int64
	Qty        int64
	UnitCost   float64
	Discount   float64
	Tax        float64
	LotNumber  string
	ExpiryDate *time.Time
}

// CreateInput describes a purchase draft.
type CreateInput struct {
	LocationID   int64
	CreatedBy    string
	ReceivedBy   string
	ReceivedAt   time.Time
	PurchaseDate time.Time
	Supplier     string
	Items        []ItemInput
	Expenses     []Expense
}

// BarcodeIntakeInput describes a barcode-to-purchase conversion.
type BarcodeIntakeInput struct {
	Codes          []string
	LocationID     int64
	Actor          string
	ReceivedBy     string
	Date           time.Time
	Note           string
	IdempotencyKey string
}

// Filter narrows purchase listings.
type Filter struct {
	LocationID int64
	Status     Status
	Supplier   string
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates a missing purchase.
	ErrNotFound = errors.New("purchases: purchase not found")
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("purchases: invalid status transition")
	// ErrConsumed blocks deleting or shrinking a purchase whose stock has
	// already been consumed downstream.
	ErrConsumed = errors.New("purchases: stock from this purchase already consumed")
	// ErrEmptyItems indicates a draft without lines.
	ErrEmptyItems = errors.New("purchases: at least one item required")
	// ErrEmptyBarcodes indicates a conversion without codes.
	ErrEmptyBarcodes = errors.New("purchases: at least one barcode required")
	// ErrLocationRequired indicates a draft without a location.
	ErrLocationRequired = errors.New("purchases: location required")
)
