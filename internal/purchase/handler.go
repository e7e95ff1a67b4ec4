package purchase

import (
	"context"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/httpx"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    *rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac *rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapPurchaseView))
		r.Get("/purchases", h.list)
		r.Get("/purchases/{id}", h.get)
		r.Get("/purchases/{id}/quotations", h.quotations)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapPurchaseManage))
		r.Post("/purchases", h.create)
		r.Post("/purchases/{id}/quote/start", h.startQuoting)
		r.Post("/purchases/{id}/quotations", h.addQuotation)
		r.Post("/purchases/{id}/arrived", h.markArrived)
		r.Post("/purchases/{id}/sent", h.markSent)
		r.Post("/purchases/{id}/error", h.markError)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapPurchaseDecide))
		r.Post("/purchases/{id}/purchased", h.markPurchased)
		r.Post("/purchases/{id}/quotations/{quotationID}/choose", h.chooseQuotation)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapPurchaseFinalize))
		r.Post("/purchases/{id}/finalize", h.finalize)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	f := ListFilter{
		CDID:      httpx.QueryUUID(r, "cd_id"),
		RequestID: httpx.QueryUUID(r, "request_id"),
		Status:    Status(r.URL.Query().Get("status")),
	}
	purchases, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	full, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, full)
}

func (h *Handler) quotations(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quotations, err := h.service.Quotations(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotations": quotations})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	full, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, full)
}

func (h *Handler) addQuotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input QuotationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	quotation, err := h.service.AddQuotation(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quotation)
}

func (h *Handler) chooseQuotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quotationID, err := httpx.UUIDParam(r, "quotationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	full, err := h.service.ChooseQuotation(r.Context(), actor, id, quotationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, full)
}

func (h *Handler) startQuoting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StartQuoting)
}

func (h *Handler) markPurchased(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkPurchased)
}

func (h *Handler) markArrived(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkArrived)
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkSent)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	full, err := h.service.Finalize(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, full)
}

func (h *Handler) markError(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.MarkError(r.Context(), actor, id, body.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type transitionFunc func(ctx context.Context, actor shared.Actor, id uuid.UUID) (Purchase, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := fn(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
