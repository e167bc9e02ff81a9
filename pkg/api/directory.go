package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/orgs"
)

// DirectoryHandlers administers organizations, users and memberships
type DirectoryHandlers struct {
	directory   orgs.Service
	invalidator Invalidator
}

// NewDirectoryHandlers creates directory handlers. invalidator may be nil.
func NewDirectoryHandlers(directory orgs.Service, invalidator Invalidator) *DirectoryHandlers {
	return &DirectoryHandlers{directory: directory, invalidator: invalidator}
}

// RegisterRoutes registers directory routes
func (h *DirectoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.createOrganization).Methods("POST")
	router.HandleFunc("/organizations/{org_id}", h.getOrganization).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/members/{user_id}", h.addMember).Methods("PUT")
	router.HandleFunc("/organizations/{org_id}/members/{user_id}", h.removeMember).Methods("DELETE")

	router.HandleFunc("/users/{user_id}", h.putUser).Methods("PUT")
	router.HandleFunc("/users/{user_id}", h.getUser).Methods("GET")
}

// PutUserRequest is the body of PUT /v1/users/{user_id}. An empty PlanID
// leaves the user without a plan.
type PutUserRequest struct {
	Email  string `json:"email,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
}

// MemberList is the body of GET /v1/organizations/{org_id}/members
type MemberList struct {
	UserIDs []string `json:"user_ids"`
}

// createOrganization handles POST /v1/organizations
func (h *DirectoryHandlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	var org orgs.Organization
	if err := httputil.ParseJSON(w, r, &org); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if org.ID == "" {
		httputil.WriteError(w, r, errdefs.Validation("id", "is required"))
		return
	}
	if org.Name == "" {
		org.Name = org.ID
	}

	if err := h.directory.CreateOrganization(r.Context(), &org); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// getOrganization handles GET /v1/organizations/{org_id}
func (h *DirectoryHandlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, err := httputil.PathString(r, "org_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	org, err := h.directory.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// listMembers handles GET /v1/organizations/{org_id}/members
func (h *DirectoryHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, err := httputil.PathString(r, "org_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	ids, err := h.directory.ListMemberIDs(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.WriteSuccess(w, MemberList{UserIDs: ids})
}

// addMember handles PUT /v1/organizations/{org_id}/members/{user_id}
func (h *DirectoryHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.directory.AddMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeMember handles DELETE /v1/organizations/{org_id}/members/{user_id}
func (h *DirectoryHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.directory.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// putUser handles PUT /v1/users/{user_id}
func (h *DirectoryHandlers) putUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathString(r, "user_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req PutUserRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	user := &orgs.User{ID: userID, Email: req.Email, PlanID: req.PlanID}
	if err := h.directory.UpsertUser(r.Context(), user); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	// the plan may have changed
	if h.invalidator != nil {
		h.invalidator.InvalidateUser(userID)
	}
	httputil.WriteSuccess(w, user)
}

// getUser handles GET /v1/users/{user_id}
func (h *DirectoryHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathString(r, "user_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	user, err := h.directory.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}
