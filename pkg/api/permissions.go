package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/entitlements"
	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/httputil"
)

// PermissionHandlers serves resolved permission maps
type PermissionHandlers struct {
	resolver entitlements.Resolver
}

// NewPermissionHandlers creates permission handlers
func NewPermissionHandlers(resolver entitlements.Resolver) *PermissionHandlers {
	return &PermissionHandlers{resolver: resolver}
}

// RegisterRoutes registers permission routes
func (h *PermissionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations/{org_id}/users/{user_id}/permissions", h.resolve).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/users/{user_id}/permissions/{feature_slug}", h.check).Methods("GET")
}

// FeatureCheck answers a single feature gate
type FeatureCheck struct {
	FeatureSlug string                   `json:"feature_slug"`
	Enabled     bool                     `json:"enabled"`
	Can         bool                     `json:"can"`
	Limit       entitlements.LimitStatus `json:"limit"`
}

// subject reads the organization and user path variables
func subject(r *http.Request) (userID, orgID string, err error) {
	if orgID, err = httputil.PathString(r, "org_id"); err != nil {
		return "", "", err
	}
	if userID, err = httputil.PathString(r, "user_id"); err != nil {
		return "", "", err
	}
	return userID, orgID, nil
}

// resolve handles GET /v1/organizations/{org_id}/users/{user_id}/permissions
func (h *PermissionHandlers) resolve(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	pm, err := h.resolver.Resolve(r.Context(), userID, orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pm)
}

// check handles GET /v1/organizations/{org_id}/users/{user_id}/permissions/{feature_slug}
func (h *PermissionHandlers) check(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	slug, err := httputil.PathString(r, "feature_slug")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	pm, err := h.resolver.Resolve(r.Context(), userID, orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if _, ok := pm.Features[slug]; !ok {
		httputil.WriteError(w, r, errdefs.NotFound(errdefs.KindFeature, slug))
		return
	}

	httputil.WriteSuccess(w, FeatureCheck{
		FeatureSlug: slug,
		Enabled:     pm.Enabled(slug),
		Can:         pm.Can(slug),
		Limit:       pm.Limits[slug],
	})
}
