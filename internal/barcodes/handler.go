package barcodes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomcart/loomcart/internal/catalog"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the barcode registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the barcodes handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers barcode routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/barcodes", h.handleCreate)
	r.Get("/barcodes", h.handleList)
	r.Get("/barcodes/{code}/used", h.handleUsedCheck)
	r.Patch("/barcodes/{code}/status", h.handleUpdateStatus)
}

type createRequest struct {
	SKU   string `json:"sku" validate:"required"`
	Count int    `json:"count" validate:"required,gt=0,lte=1000"`
	Note  string `json:"note"`
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateForStock(r.Context(), req.SKU, req.Count, req.Note, req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"barcodes": created})
}

type statusRequest struct {
	Status    string `json:"status" validate:"required"`
	Condition string `json:"conditions" validate:"required"`
	Actor     string `json:"actor" validate:"required"`
	Role      string `json:"role"`
	Note      string `json:"note"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updated, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "code"), Status(req.Status), Condition(req.Condition), req.Actor, req.Role, req.Note)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"barcode": updated})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		SKU:     q.Get("sku"),
		Code:    q.Get("barcode"),
		Status:  Status(q.Get("status")),
		Page:    queryInt(q.Get("page")),
		PerPage: queryInt(q.Get("per_page")),
	}
	if used := q.Get("is_used"); used == "true" || used == "false" {
		v := used == "true"
		filter.IsUsed = &v
	}
	items, pagination, err := h.service.ListBySKU(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"barcodes": items, "pagination": pagination})
}

func (h *Handler) handleUsedCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.service.CheckUsedOrNot(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrVariantNotFound), errors.Is(err, costdefaults.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrAlreadyUsed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidCondition), errors.Is(err, costdefaults.ErrIncomplete):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("barcodes request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt(value string) int {
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
