package purchases

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/platform/httpx"
	"github.com/loomcart/loomcart/internal/shared"
)

// Handler wires HTTP endpoints for purchase intake.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchases handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handleCreate)
	r.Get("/purchases", h.handleList)
	r.Get("/purchases/{id}", h.handleGet)
	r.Put("/purchases/{id}", h.handleUpdate)
	r.Patch("/purchases/{id}/status", h.handleStatus)
	r.Delete("/purchases/{id}", h.handleDelete)
	r.Post("/purchases/from-barcodes", h.handleFromBarcodes)
}

type itemRequest struct {
	VariantID  int64   `json:"variant_id" validate:"required,gt=0"`
	ProductID  int64   `json:"product_id" validate:"required,gt=0"`
	Qty        int64   `json:"qty" validate:"required,gt=0"`
	UnitCost   float64 `json:"unit_cost" validate:"gte=0"`
	Discount   float64 `json:"discount" validate:"gte=0"`
	Tax        float64 `json:"tax" validate:"gte=0"`
	LotNumber  string  `json:"lot_number"`
	ExpiryDate *string `json:"expiry_date"`
}

type expenseRequest struct {
	Type   string  `json:"type" validate:"required"`
	Amount float64 `json:"amount" validate:"gte=0"`
	Note   string  `json:"note"`
}

type createPurchaseRequest struct {
	LocationID   int64            `json:"location_id" validate:"required,gt=0"`
	CreatedBy    string           `json:"created_by" validate:"required"`
	ReceivedBy   string           `json:"received_by"`
	ReceivedAt   *string          `json:"received_at"`
	PurchaseDate *string          `json:"purchase_date"`
	Supplier     string           `json:"supplier"`
	Items        []itemRequest    `json:"items" validate:"required,min=1,dive"`
	Expenses     []expenseRequest `json:"expenses_applied" validate:"dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		LocationID: req.LocationID,
		CreatedBy:  req.CreatedBy,
		ReceivedBy: req.ReceivedBy,
		Supplier:   req.Supplier,
		Items:      make([]ItemInput, 0, len(req.Items)),
		Expenses:   toExpenses(req.Expenses),
	}
	var ok bool
	if input.ReceivedAt, ok = parseDate(w, req.ReceivedAt); !ok {
		return
	}
	if input.PurchaseDate, ok = parseDate(w, req.PurchaseDate); !ok {
		return
	}
	for _, item := range req.Items {
		parsed, ok := toItemInput(w, item)
		if !ok {
			return
		}
		input.Items = append(input.Items, parsed)
	}
	purchase, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
}

type updatePurchaseRequest struct {
	Actor    string           `json:"actor" validate:"required"`
	Items    []itemRequest    `json:"items" validate:"required,min=1,dive"`
	Expenses []expenseRequest `json:"expenses_applied" validate:"dive"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updatePurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		parsed, ok := toItemInput(w, item)
		if !ok {
			return
		}
		items = append(items, parsed)
	}
	purchase, err := h.service.Update(r.Context(), id, items, toExpenses(req.Expenses), req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	purchase, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Status:   Status(q.Get("status")),
		Supplier: q.Get("supplier"),
	}
	filter.LocationID, _ = strconv.ParseInt(q.Get("location_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	out, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": out, "pagination": pagination})
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending received cancelled"`
	Actor  string `json:"actor" validate:"required"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	purchase, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

type deleteRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Delete(r.Context(), id, req.Actor); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fromBarcodesRequest struct {
	Barcodes       []string `json:"barcodes" validate:"required,min=1,dive,len=13"`
	LocationID     int64    `json:"location_id" validate:"required,gt=0"`
	Actor          string   `json:"actor" validate:"required"`
	ReceivedBy     string   `json:"received_by"`
	Date           *string  `json:"date"`
	Note           string   `json:"note"`
	IdempotencyKey string   `json:"idempotency_key"`
}

func (h *Handler) handleFromBarcodes(w http.ResponseWriter, r *http.Request) {
	var req fromBarcodesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := BarcodeIntakeInput{
		Codes:          req.Barcodes,
		LocationID:     req.LocationID,
		Actor:          req.Actor,
		ReceivedBy:     req.ReceivedBy,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	}
	var ok bool
	if input.Date, ok = parseDate(w, req.Date); !ok {
		return
	}
	purchase, updated, err := h.service.CreateFromBarcodes(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"purchase": purchase, "updated_barcodes": updated})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrStockNotFound), errors.Is(err, barcodes.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConsumed), errors.Is(err, ErrInvalidTransition), errors.Is(err, barcodes.ErrAlreadyUsed), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrEmptyItems), errors.Is(err, ErrEmptyBarcodes), errors.Is(err, ErrLocationRequired),
		errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, costdefaults.ErrIncomplete), errors.Is(err, costdefaults.ErrNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", err.Error())
	case errors.Is(err, ledger.ErrLotDesync):
		h.logger.Error("lot/stock desynchronization", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", err.Error())
	default:
		h.logger.Error("purchases request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase id")
		return 0, false
	}
	return id, true
}

func parseDate(w http.ResponseWriter, value *string) (time.Time, bool) {
	if value == nil || *value == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, *value); err == nil {
			return parsed, true
		}
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date, want RFC3339 or YYYY-MM-DD")
	return time.Time{}, false
}

func toExpenses(in []expenseRequest) []Expense {
	out := make([]Expense, 0, len(in))
	for _, expense := range in {
		out = append(out, Expense{Type: expense.Type, Amount: expense.Amount, Note: expense.Note})
	}
	return out
}

func toItemInput(w http.ResponseWriter, in itemRequest) (ItemInput, bool) {
	item := ItemInput{
		VariantID: in.VariantID,
		ProductID: in.ProductID,
		Qty:       in.Qty,
		UnitCost:  in.UnitCost,
		Discount:  in.Discount,
		Tax:       in.Tax,
		LotNumber: in.LotNumber,
	}
	expiry, ok := parseDate(w, in.ExpiryDate)
	if !ok {
		return ItemInput{}, false
	}
	if !expiry.IsZero() {
		item.ExpiryDate = &expiry
	}
	return item, true
}
