package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/overrides"
)

// OverrideHandlers manages overrides
type OverrideHandlers struct {
	service *overrides.Service
}

// NewOverrideHandlers creates override handlers
func NewOverrideHandlers(service *overrides.Service) *OverrideHandlers {
	return &OverrideHandlers{service: service}
}

// RegisterRoutes registers override routes
func (h *OverrideHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/overrides", h.create).Methods("POST")
	router.HandleFunc("/overrides", h.list).Methods("GET")
	router.HandleFunc("/overrides/cleanup", h.cleanup).Methods("POST")
	router.HandleFunc("/overrides/{id}", h.get).Methods("GET")
	router.HandleFunc("/overrides/{id}", h.update).Methods("PATCH")
	router.HandleFunc("/overrides/{id}", h.delete).Methods("DELETE")
}

// OverrideList is the body of GET /v1/overrides
type OverrideList struct {
	Overrides []overrides.Override `json:"overrides"`
}

func overrideID(r *http.Request) (uuid.UUID, error) {
	str, err := httputil.PathString(r, "id")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, errdefs.Validation("id", "invalid override id %q", str)
	}
	return id, nil
}

// create handles POST /v1/overrides
func (h *OverrideHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in overrides.CreateInput
	if err := httputil.ParseJSON(w, r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	o, err := h.service.Create(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, o)
}

// list handles GET /v1/overrides
func (h *OverrideHandlers) list(w http.ResponseWriter, r *http.Request) {
	filter := overrides.ListFilter{
		Scope:       overrides.Scope(httputil.QueryString(r, "scope", "")),
		TargetID:    httputil.QueryString(r, "target_id", ""),
		FeatureSlug: httputil.QueryString(r, "feature_slug", ""),
		Status:      overrides.Status(httputil.QueryString(r, "status", string(overrides.StatusAll))),
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []overrides.Override{}
	}
	httputil.WriteSuccess(w, OverrideList{Overrides: list})
}

// get handles GET /v1/overrides/{id}
func (h *OverrideHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := overrideID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	o, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, o)
}

// update handles PATCH /v1/overrides/{id}
func (h *OverrideHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := overrideID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var in overrides.UpdateInput
	if err := httputil.ParseJSON(w, r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	o, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, o)
}

// delete handles DELETE /v1/overrides/{id}
func (h *OverrideHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := overrideID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// cleanup handles POST /v1/overrides/cleanup
func (h *OverrideHandlers) cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
