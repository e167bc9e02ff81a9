package rbac

import (
	"time"
)

// Role is an organization-scoped bundle of feature grants. A role only ever
// enables features; it never carries limits. Built-in roles have an empty
// OrganizationID and apply in every organization.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description,omitempty"`
	Grants         []string  `json:"grants"`
	IsBuiltIn      bool      `json:"is_built_in"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AppliesTo reports whether the role can grant features in orgID.
func (r *Role) AppliesTo(orgID string) bool {
	return r.OrganizationID == "" || r.OrganizationID == orgID
}

// UserRole assigns a role to a user inside one organization
type UserRole struct {
	UserID         string     `json:"user_id"`
	RoleID         string     `json:"role_id"`
	OrganizationID string     `json:"organization_id"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the assignment is in effect at now.
func (ur *UserRole) Active(now time.Time) bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(now)
}

// CreateRoleRequest is the input for Manager.CreateRole
type CreateRoleRequest struct {
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	Grants         []string `json:"grants"`
}

// UpdateRoleRequest changes a role. Nil fields are left untouched.
type UpdateRoleRequest struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Grants      *[]string `json:"grants,omitempty"`
}

// AssignRoleRequest is the input for Manager.AssignRole
type AssignRoleRequest struct {
	UserID         string     `json:"user_id"`
	RoleID         string     `json:"role_id"`
	OrganizationID string     `json:"organization_id"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func normalizeGrants(grants []string) []string {
	seen := make(map[string]struct{}, len(grants))
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
