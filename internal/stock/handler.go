package stock

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/httpx"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
)

// Handler exposes the stock ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    *rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, mw *rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapStockView))
		r.Get("/stock/cd/{cdID}/availability", h.availability)
		r.Get("/stock/{partition}", h.list)
		r.Get("/stock/{partition}/{itemID}/{locationID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapStockAdjust))
		r.Post("/stock", h.create)
		r.Put("/stock/{partition}/{itemID}/{locationID}/quantity", h.adjust)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapStockLevels))
		r.Put("/stock/{partition}/{itemID}/{locationID}/levels", h.updateLevels)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapStockPrice))
		r.Put("/stock/{partition}/{itemID}/{locationID}/price", h.setPrice)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p := Partition(chi.URLParam(r, "partition"))
	f := ListFilter{
		LocationID: httpx.QueryUUID(r, "location_id"),
		ItemID:     httpx.QueryUUID(r, "item_id"),
		Status:     Status(r.URL.Query().Get("status")),
	}
	records, err := h.service.List(r.Context(), actor, p, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p, key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), actor, p, key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p, key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	var body struct {
		NewQuantity int64  `json:"new_quantity"`
		Reason      string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Adjust(r.Context(), actor, AdjustInput{
		Partition:   p,
		ItemID:      key.ItemID,
		LocationID:  key.LocationID,
		NewQuantity: body.NewQuantity,
		Reason:      body.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) updateLevels(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p, key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	var body struct {
		MinQuantity int64  `json:"min_quantity"`
		MaxQuantity *int64 `json:"max_quantity"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.UpdateLevels(r.Context(), actor, LevelsInput{
		Partition:   p,
		ItemID:      key.ItemID,
		LocationID:  key.LocationID,
		MinQuantity: body.MinQuantity,
		MaxQuantity: body.MaxQuantity,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) setPrice(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p, key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	var input PriceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Partition = p
	input.ItemID = key.ItemID
	input.CDID = key.LocationID
	rec, err := h.service.SetPrice(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	if _, ok := httpx.RequireActor(w, r); !ok {
		return
	}
	cdID, err := httpx.UUIDParam(r, "cdID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	raw := strings.Split(r.URL.Query().Get("item_ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_ids must be a comma separated list of UUIDs")
			return
		}
		ids = append(ids, id)
	}
	snapshot, err := h.service.AvailabilitySnapshot(r.Context(), cdID, ids)
	if err != nil {
		h.logger.Error("availability snapshot", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make(map[string]int64, len(snapshot))
	for id, qty := range snapshot {
		out[id.String()] = qty
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cd_id": cdID, "availability": out})
}

func (h *Handler) pathKey(w http.ResponseWriter, r *http.Request) (Partition, Key, bool) {
	p := Partition(chi.URLParam(r, "partition"))
	itemID, err := httpx.UUIDParam(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return p, Key{}, false
	}
	locationID, err := httpx.UUIDParam(r, "locationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return p, Key{}, false
	}
	return p, Key{ItemID: itemID, LocationID: locationID}, true
}
