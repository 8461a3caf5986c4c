package transfers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/platform/httpx"
	"github.com/loomcart/loomcart/internal/shared"
)

// Handler wires HTTP endpoints for transfers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transfers", h.handleTransfer)
	r.Get("/transfers", h.handleList)
	r.Get("/transfers/{id}", h.handleGet)
}

type transferRequest struct {
	FromLocationID int64  `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64  `json:"to_location_id" validate:"required,gt=0"`
	TransferBy     string `json:"transfer_by" validate:"required"`
	Items          []struct {
		VariantID int64 `json:"variant_id" validate:"required,gt=0"`
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Qty       int64 `json:"qty" validate:"required,gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Expenses []struct {
		Type   string  `json:"type" validate:"required"`
		Amount float64 `json:"amount" validate:"gte=0"`
		Note   string  `json:"note"`
	} `json:"expenses_applied" validate:"dive"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := Input{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		TransferBy:     req.TransferBy,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{VariantID: item.VariantID, ProductID: item.ProductID, Qty: item.Qty})
	}
	for _, expense := range req.Expenses {
		input.Expenses = append(input.Expenses, Expense{Type: expense.Type, Amount: expense.Amount, Note: expense.Note})
	}
	transfer, err := h.service.Transfer(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transfer": transfer})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	transfer, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer": transfer})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter Filter
	filter.FromLocationID, _ = strconv.ParseInt(q.Get("from_location_id"), 10, 64)
	filter.ToLocationID, _ = strconv.ParseInt(q.Get("to_location_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	out, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": out, "pagination": pagination})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrStockNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSameLocation), errors.Is(err, ErrEmptyItems), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ledger.ErrLotDesync):
		h.logger.Error("lot/stock desynchronization", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", err.Error())
	default:
		h.logger.Error("transfers request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
