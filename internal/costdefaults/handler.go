package costdefaults

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomcart/loomcart/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the default-cost registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the cost-defaults handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers cost-default routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cost-defaults", h.handleList)
	r.Get("/cost-defaults/{variantID}", h.handleGet)
	r.Put("/cost-defaults", h.handleUpsert)
}

type upsertRequest struct {
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Supplier  string  `json:"supplier"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
	Discount  float64 `json:"discount" validate:"gte=0"`
	Tax       float64 `json:"tax" validate:"gte=0"`
	Actor     string  `json:"actor" validate:"required"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.Upsert(r.Context(), req.Actor, DefaultCost{
		VariantID: req.VariantID,
		ProductID: req.ProductID,
		Supplier:  req.Supplier,
		UnitCost:  req.UnitCost,
		Discount:  req.Discount,
		Tax:       req.Tax,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cost_default": entry})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid variant id")
		return
	}
	entry, err := h.service.ByVariant(r.Context(), variantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cost_default": entry})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cost_defaults": entries})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("cost-defaults request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
