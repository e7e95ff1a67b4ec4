package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/audit"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/auth"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/dashboard"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/observability"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/purchase"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/request"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/transit"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/users"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Actors         ActorResolver
	Idempotency    IdempotencyGuard

	AuthHandler      *auth.Handler
	UsersHandler     *users.Handler
	CatalogHandler   *catalog.Handler
	StockHandler     *stock.Handler
	MovementHandler  *movement.Handler
	TransitHandler   *transit.Handler
	RequestHandler   *request.Handler
	PurchaseHandler  *purchase.Handler
	AuditHandler     *audit.Handler
	DashboardHandler *dashboard.Handler
	JobsHandler      *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi router with the full middleware chain and
// every module's routes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Actors:         params.Actors,
		Idempotency:    params.Idempotency,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(RequestLogger(params.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/users", params.UsersHandler.MountRoutes)
	r.Route("/catalog", params.CatalogHandler.MountRoutes)
	params.StockHandler.MountRoutes(r)
	params.MovementHandler.MountRoutes(r)
	params.TransitHandler.MountRoutes(r)
	params.RequestHandler.MountRoutes(r)
	params.PurchaseHandler.MountRoutes(r)
	params.AuditHandler.MountRoutes(r)
	params.DashboardHandler.MountRoutes(r)

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
