package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

// UsageHandlers records and resets usage counters
type UsageHandlers struct {
	tracker *usage.Tracker
}

// NewUsageHandlers creates usage handlers
func NewUsageHandlers(tracker *usage.Tracker) *UsageHandlers {
	return &UsageHandlers{tracker: tracker}
}

// RegisterRoutes registers usage routes
func (h *UsageHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/{user_id}/usage", h.get).Methods("GET")
	router.HandleFunc("/users/{user_id}/usage/{feature_slug}", h.record).Methods("POST")
	router.HandleFunc("/users/{user_id}/usage/{feature_slug}", h.reset).Methods("DELETE")
	router.HandleFunc("/usage/reset", h.resetAll).Methods("POST")
}

// RecordUsageRequest is the body of POST /v1/users/{user_id}/usage/{feature_slug}
type RecordUsageRequest struct {
	Amount int64 `json:"amount"`
}

// ResetAllRequest is the body of POST /v1/usage/reset. An empty
// OrganizationID resets every user.
type ResetAllRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
}

// UsageList is the body of GET /v1/users/{user_id}/usage
type UsageList struct {
	Usage []usage.Record `json:"usage"`
}

// record handles POST /v1/users/{user_id}/usage/{feature_slug}
func (h *UsageHandlers) record(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathString(r, "user_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	slug, err := httputil.PathString(r, "feature_slug")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req RecordUsageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	res, err := h.tracker.RecordUsage(r.Context(), userID, slug, req.Amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// get handles GET /v1/users/{user_id}/usage?feature_slug=
func (h *UsageHandlers) get(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathString(r, "user_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	records, err := h.tracker.GetUsage(r.Context(), userID, httputil.QueryString(r, "feature_slug", ""))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if records == nil {
		records = []usage.Record{}
	}
	httputil.WriteSuccess(w, UsageList{Usage: records})
}

// reset handles DELETE /v1/users/{user_id}/usage/{feature_slug}
func (h *UsageHandlers) reset(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathString(r, "user_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	slug, err := httputil.PathString(r, "feature_slug")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.tracker.ResetUsage(r.Context(), userID, slug); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// resetAll handles POST /v1/usage/reset
func (h *UsageHandlers) resetAll(w http.ResponseWriter, r *http.Request) {
	var req ResetAllRequest
	if r.ContentLength != 0 {
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}

	res, err := h.tracker.ResetAll(r.Context(), req.OrganizationID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
