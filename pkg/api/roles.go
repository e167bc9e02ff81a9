package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/entitlements/pkg/httputil"
	"github.com/platinummonkey/entitlements/pkg/rbac"
)

// RoleHandlers manages roles and their assignment to users
type RoleHandlers struct {
	manager     *rbac.Manager
	invalidator Invalidator
}

// NewRoleHandlers creates role handlers. invalidator may be nil.
func NewRoleHandlers(manager *rbac.Manager, invalidator Invalidator) *RoleHandlers {
	return &RoleHandlers{manager: manager, invalidator: invalidator}
}

// RegisterRoutes registers role routes
func (h *RoleHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.createRole).Methods("POST")
	router.HandleFunc("/roles", h.listRoles).Methods("GET")
	router.HandleFunc("/roles/{role_id}", h.getRole).Methods("GET")
	router.HandleFunc("/roles/{role_id}", h.updateRole).Methods("PATCH")
	router.HandleFunc("/roles/{role_id}", h.deleteRole).Methods("DELETE")

	router.HandleFunc("/organizations/{org_id}/users/{user_id}/roles", h.listUserRoles).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/users/{user_id}/roles", h.assignRole).Methods("POST")
	router.HandleFunc("/organizations/{org_id}/users/{user_id}/roles/{role_id}", h.revokeRole).Methods("DELETE")
}

// RoleList is the body of GET /v1/roles
type RoleList struct {
	Roles []rbac.Role `json:"roles"`
}

// UserRoleList is the body of GET /v1/organizations/{org_id}/users/{user_id}/roles
type UserRoleList struct {
	RoleIDs []string `json:"role_ids"`
}

// AssignRoleRequest is the body of POST /v1/organizations/{org_id}/users/{user_id}/roles
type AssignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *RoleHandlers) invalidateUser(userID string) {
	if h.invalidator != nil {
		h.invalidator.InvalidateUser(userID)
	}
}

func (h *RoleHandlers) purge() {
	if h.invalidator != nil {
		h.invalidator.Purge()
	}
}

// createRole handles POST /v1/roles
func (h *RoleHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req rbac.CreateRoleRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	role, err := h.manager.CreateRole(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// listRoles handles GET /v1/roles?organization_id=
func (h *RoleHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.ListRoles(r.Context(), httputil.QueryString(r, "organization_id", ""))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httputil.WriteSuccess(w, RoleList{Roles: roles})
}

// getRole handles GET /v1/roles/{role_id}
func (h *RoleHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httputil.PathString(r, "role_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	role, err := h.manager.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// updateRole handles PATCH /v1/roles/{role_id}
func (h *RoleHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httputil.PathString(r, "role_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req rbac.UpdateRoleRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	role, err := h.manager.UpdateRole(r.Context(), roleID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	// grant changes reach every holder of the role
	h.purge()
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /v1/roles/{role_id}
func (h *RoleHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := httputil.PathString(r, "role_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.manager.DeleteRole(r.Context(), roleID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listUserRoles handles GET /v1/organizations/{org_id}/users/{user_id}/roles
func (h *RoleHandlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	ids, err := h.manager.UserRoleIDs(r.Context(), userID, orgID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.WriteSuccess(w, UserRoleList{RoleIDs: ids})
}

// assignRole handles POST /v1/organizations/{org_id}/users/{user_id}/roles
func (h *RoleHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req AssignRoleRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	ur, err := h.manager.AssignRole(r.Context(), rbac.AssignRoleRequest{
		UserID:         userID,
		RoleID:         req.RoleID,
		OrganizationID: orgID,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.invalidateUser(userID)
	httputil.WriteCreated(w, ur)
}

// revokeRole handles DELETE /v1/organizations/{org_id}/users/{user_id}/roles/{role_id}
func (h *RoleHandlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, orgID, err := subject(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	roleID, err := httputil.PathString(r, "role_id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.manager.RevokeRole(r.Context(), userID, roleID, orgID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.invalidateUser(userID)
	httputil.WriteNoContent(w)
}
