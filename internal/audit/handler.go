package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/httpx"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    *rbac.Middleware
	now     func() time.Time
}

func NewHandler(logger *slog.Logger, service *Service, rbac *rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapAuditView))
		r.Get("/audit", h.timeline)
		r.Get("/audit/export", h.export)
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	f, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), actor, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	f, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Export(r.Context(), actor, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"at", "actor", "action", "entity", "entity_id"})
	for _, e := range entries {
		if err := cw.Write([]string{
			e.At.Format(time.RFC3339),
			e.ActorName,
			e.Action,
			e.Entity,
			e.EntityID,
		}); err != nil {
			h.logger.Warn("write csv row", slog.Any("error", err))
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("flush csv", slog.Any("error", err))
	}
}

// parseFilters reads the query string. The window defaults to the last seven
// days and is capped at ninety.
func (h *Handler) parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	now := h.now().UTC()

	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return Filters{}, fmt.Errorf("%w: invalid to date", shared.ErrValidation)
	}
	// inclusive end day
	to = to.Add(24 * time.Hour)

	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = to.Add(-24 * time.Hour).Add(-defaultDateRange).Format("2006-01-02")
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return Filters{}, fmt.Errorf("%w: invalid from date", shared.ErrValidation)
	}
	if from.After(to) {
		return Filters{}, fmt.Errorf("%w: from is after to", shared.ErrValidation)
	}
	if to.Sub(from) > maxDateRange {
		return Filters{}, fmt.Errorf("%w: date range exceeds 90 days", shared.ErrValidation)
	}

	return Filters{
		From:     from,
		To:       to,
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     httpx.QueryInt(r, "page", 1),
		PageSize: httpx.QueryInt(r, "page_size", defaultPageSize),
	}, nil
}
