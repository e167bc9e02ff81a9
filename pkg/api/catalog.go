package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/plans"
)

// CatalogHandlers exposes the loaded feature and plan catalog
type CatalogHandlers struct {
	features features.Catalog
	plans    PlanLister
}

// NewCatalogHandlers creates catalog handlers. plans may be nil.
func NewCatalogHandlers(fc features.Catalog, pc PlanLister) *CatalogHandlers {
	return &CatalogHandlers{features: fc, plans: pc}
}

// RegisterRoutes registers catalog routes
func (h *CatalogHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/features", h.listFeatures).Methods("GET")
	if h.plans != nil {
		router.HandleFunc("/plans", h.listPlans).Methods("GET")
	}
}

// FeatureList is the body of GET /v1/features
type FeatureList struct {
	Features []features.Feature `json:"features"`
}

// PlanList is the body of GET /v1/plans
type PlanList struct {
	Plans []plans.Plan `json:"plans"`
}

// listFeatures handles GET /v1/features
func (h *CatalogHandlers) listFeatures(w http.ResponseWriter, r *http.Request) {
	list, err := h.features.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []features.Feature{}
	}
	httputil.WriteSuccess(w, FeatureList{Features: list})
}

// listPlans handles GET /v1/plans
func (h *CatalogHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	list := h.plans.List(r.Context())
	if list == nil {
		list = []plans.Plan{}
	}
	httputil.WriteSuccess(w, PlanList{Plans: list})
}
