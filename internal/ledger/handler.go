package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomcart/loomcart/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stocks and the stock report.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stocks handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stocks", h.handleList)
	r.Get("/stocks/report", h.handleReport)
	r.Get("/stocks/low", h.handleLowStock)
	r.Get("/stocks/product/{slug}", h.handleByProduct)
	r.Get("/stocks/{id}/lots", h.handleLots)
	r.Patch("/stocks/{id}", h.handleUpdate)
	r.Delete("/stocks/{id}", h.handleDelete)
	r.Post("/stocks/adjustment", h.handleAdjustment)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockFilter{
		LocationID: queryInt64(q.Get("location_id")),
		VariantID:  queryInt64(q.Get("variant_id")),
		ProductID:  queryInt64(q.Get("product_id")),
		Page:       int(queryInt64(q.Get("page"))),
		PerPage:    int(queryInt64(q.Get("per_page"))),
	}
	stocks, pagination, err := h.service.ListStocks(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocks": stocks, "pagination": pagination})
}

func (h *Handler) handleByProduct(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.service.GetStockByProduct(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocks": stocks})
}

func (h *Handler) handleLots(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stock id")
		return
	}
	lots, err := h.service.ListLots(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

type stockPatchRequest struct {
	QtyReserved *int64 `json:"qty_reserved" validate:"omitempty,gte=0"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stock id")
		return
	}
	var req stockPatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	stock, err := h.service.UpdateStock(r.Context(), id, StockPatch{QtyReserved: req.QtyReserved})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": stock})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stock id")
		return
	}
	if err := h.service.DeleteStock(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustmentRequest struct {
	Items []struct {
		StockID int64 `json:"stock_id" validate:"required,gt=0"`
		Qty     int64 `json:"qty" validate:"required,gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Action string `json:"action" validate:"required,oneof=ADDITION DEDUCTION"`
	Actor  string `json:"actor" validate:"required"`
	Role   string `json:"role"`
	Note   string `json:"note"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := AdjustInput{Action: AdjustAction(req.Action), Actor: req.Actor, Role: req.Role, Note: req.Note}
	for _, item := range req.Items {
		input.Items = append(input.Items, AdjustItemInput{StockID: item.StockID, Qty: item.Qty})
	}
	adjusted, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjusted_stocks": adjusted})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReportFilter{
		SKU:       q.Get("sku"),
		Threshold: queryInt64(q.Get("threshold")),
		Page:      int(queryInt64(q.Get("page"))),
		PerPage:   int(queryInt64(q.Get("per_page"))),
	}
	rows, pagination, err := h.service.FullStockReport(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="stock_report.csv"`)
		if err := WriteReportCSV(w, rows); err != nil {
			h.logger.Error("write report csv", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"report": rows, "pagination": pagination})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, pagination, err := h.service.LowStock(r.Context(), queryInt64(q.Get("threshold")), int(queryInt64(q.Get("page"))), int(queryInt64(q.Get("per_page"))))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": rows, "pagination": pagination})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrStockNotFound), errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNoLotForAddition):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStockNotEmpty):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrLotDesync):
		h.logger.Error("lot/stock desynchronization", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", err.Error())
	default:
		h.logger.Error("stocks request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt64(value string) int64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
