package movement

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/httpx"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
)

// Handler exposes the movement log endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    *rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, mw *rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw}
}

// MountRoutes registers movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapMovementView))
		r.Get("/movements", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapMovementReconcile))
		r.Post("/movements/reconcile", h.reconcile)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	f := ListFilter{
		ItemID:     httpx.QueryUUID(r, "item_id"),
		LocationID: httpx.QueryUUID(r, "location_id"),
		Type:       Type(r.URL.Query().Get("type")),
		Page:       httpx.QueryInt(r, "page", 0),
		PerPage:    httpx.QueryInt(r, "per_page", 0),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		f.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		f.To = t
	}
	if f.Type != "" && !f.Type.IsValid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown movement type")
		return
	}

	movements, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	diffs, err := h.service.Reconcile(r.Context(), actor)
	if err != nil {
		h.logger.Error("reconcile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"clean":         len(diffs) == 0,
		"discrepancies": diffs,
	})
}
