package barcodes

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a serialized unit.
type Status string

const (
	StatusQCPending    Status = "qc_pending"
	StatusInStock      Status = "in_stock"
	StatusAssigned     Status = "assigned"
	StatusAllocated    Status = "allocated"
	StatusPicked       Status = "picked"
	StatusShipped      Status = "shipped"
	StatusSold         Status = "sold"
	StatusReturned     Status = "returned"
	StatusDamaged      Status = "damaged"
	StatusQuarantine   Status = "quarantine"
	StatusMissing      Status = "missing"
	StatusExpired      Status = "expired"
	StatusRefurbishing Status = "refurbishing"
	StatusDiscarded    Status = "discarded"
)

var validStatuses = map[Status]struct{}{
	StatusQCPending: {}, StatusInStock: {}, StatusAssigned: {}, StatusAllocated: {},
	StatusPicked: {}, StatusShipped: {}, StatusSold: {}, StatusReturned: {},
	StatusDamaged: {}, StatusQuarantine: {}, StatusMissing: {}, StatusExpired: {},
	StatusRefurbishing: {}, StatusDiscarded: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// Condition enumerates the physical condition of a serialized unit.
type Condition string

const (
	ConditionNew               Condition = "new"
	ConditionUsed              Condition = "used"
	ConditionRefurbished       Condition = "refurbished"
	ConditionOpenBox           Condition = "open_box"
	ConditionPackagingDamaged  Condition = "packaging_damaged"
	ConditionDefective         Condition = "defective"
	ConditionPhysicallyDamaged Condition = "physically_damaged"
	ConditionScrap             Condition = "scrap"
)

var validConditions = map[Condition]struct{}{
	ConditionNew: {}, ConditionUsed: {}, ConditionRefurbished: {}, ConditionOpenBox: {},
	ConditionPackagingDamaged: {}, ConditionDefective: {}, ConditionPhysicallyDamaged: {}, ConditionScrap: {},
}

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	_, ok := validConditions[c]
	return ok
}

// UpdatedLog is one immutable entry in a barcode's history. Entries are
// prepended, never rewritten.
type UpdatedLog struct {
	Name          string    `json:"name"`
	Role          string    `json:"role,omitempty"`
	Date          time.Time `json:"date"`
	AdminNote     string    `json:"admin_note,omitempty"`
	SystemMessage string    `json:"system_message"`
}

// Barcode tracks one physical unit independently of the aggregate ledger,
// reconciled against it when folded into a purchase.
type Barcode struct {
	ID          int64        `json:"id"`
	Code        string       `json:"barcode"`
	SKU         string       `json:"sku"`
	VariantID   int64        `json:"variant_id"`
	ProductID   int64        `json:"product_id"`
	LotID       *int64       `json:"lot_id,omitempty"`
	StockID     *int64       `json:"stock_id,omitempty"`
	Status      Status       `json:"status"`
	Condition   Condition    `json:"conditions"`
	IsUsed      bool         `json:"is_used_barcode"`
	UpdatedLogs []UpdatedLog `json:"updated_logs"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UsedCheck is the answer to a single-use probe.
type UsedCheck struct {
	Barcode   string    `json:"barcode"`
	IsUsed    bool      `json:"is_used_barcode"`
	Status    Status    `json:"status"`
	Condition Condition `json:"conditions"`
}

var (
	// ErrNotFound indicates an unregistered barcode.
	ErrNotFound = errors.New("barcodes: barcode not found")
	// ErrDuplicate indicates a barcode collision on insert.
	ErrDuplicate = errors.New("barcodes: barcode already registered")
	// ErrAlreadyUsed indicates a barcode that was already folded into a purchase.
	ErrAlreadyUsed = errors.New("barcodes: barcode already used")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("barcodes: invalid status")
	// ErrInvalidCondition indicates an unknown condition value.
	ErrInvalidCondition = errors.New("barcodes: invalid condition")
)

// codePrefix is the GS1 in-store prefix used for internally issued codes.
const codePrefix = "200"

// NewCode builds an EAN-13 code from a monotonically increasing serial: the
// in-store prefix, nine serial digits, and the standard check digit.
func NewCode(serial int64) string {
	body := fmt.Sprintf("%s%09d", codePrefix, serial%1_000_000_000)
	return body + fmt.Sprintf("%d", CheckDigit(body))
}

// CheckDigit computes the EAN-13 check digit for a 12-digit body. Positions
// are weighted 1,3,1,3,... left to right.
func CheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		digit := int(r - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return (10 - sum%10) % 10
}

// ValidCode reports whether code is 13 digits with a correct check digit.
func ValidCode(code string) bool {
	if len(code) != 13 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return CheckDigit(code[:12]) == int(code[12]-'0')
}

// Filter narrows barcode listings.
type Filter struct {
	SKU     string
	Code    string
	Status  Status
	IsUsed  *bool
	Page    int
	PerPage int
}
