package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/observability"
	"github.com/loomcart/loomcart/internal/purchases"
	"github.com/loomcart/loomcart/internal/transfers"
	"github.com/loomcart/loomcart/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	StocksHandler       *ledger.Handler
	PurchasesHandler    *purchases.Handler
	TransfersHandler    *transfers.Handler
	BarcodesHandler     *barcodes.Handler
	CostDefaultsHandler *costdefaults.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with Loomcart defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(api chi.Router) {
		if params.StocksHandler != nil {
			params.StocksHandler.MountRoutes(api)
		}
		if params.PurchasesHandler != nil {
			params.PurchasesHandler.MountRoutes(api)
		}
		if params.TransfersHandler != nil {
			params.TransfersHandler.MountRoutes(api)
		}
		if params.BarcodesHandler != nil {
			params.BarcodesHandler.MountRoutes(api)
		}
		if params.CostDefaultsHandler != nil {
			params.CostDefaultsHandler.MountRoutes(api)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(jr chi.Router) {
			params.JobHandler.MountRoutes(jr)
		})
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
