package rbac

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
)

// Manager validates role administration and answers role-grant lookups for
// the resolver.
type Manager struct {
	store    Store
	features features.Catalog
	logger   *observability.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a role manager
func NewManager(store Store, catalog features.Catalog, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		features: catalog,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("rbac")
	return m
}

// Store exposes the underlying store
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) validateGrants(ctx context.Context, grants []string) error {
	for _, slug := range grants {
		if _, err := m.features.GetBySlug(ctx, slug); err != nil {
			if errdefs.IsNotFound(err) {
				return errdefs.Validation("grants", "unknown feature %q", slug)
			}
			return err
		}
	}
	return nil
}

// CreateRole validates and stores a new organization role
func (m *Manager) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	if strings.TrimSpace(req.OrganizationID) == "" {
		return nil, errdefs.Validation("organization_id", "is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errdefs.Validation("name", "is required")
	}
	if err := m.validateGrants(ctx, req.Grants); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	role := &Role{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		Grants:         normalizeGrants(req.Grants),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if role.DisplayName == "" {
		role.DisplayName = role.Name
	}
	if err := m.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"role_id":                         role.ID,
		observability.FieldOrganizationID: role.OrganizationID,
	}).Info("role created")
	return role, nil
}

// UpdateRole applies req to a custom role. Built-in roles are read-only.
func (m *Manager) UpdateRole(ctx context.Context, roleID string, req UpdateRoleRequest) (*Role, error) {
	role, err := m.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsBuiltIn {
		return nil, errdefs.Conflict("built-in role %s cannot be modified", roleID)
	}
	if req.Grants != nil {
		if err := m.validateGrants(ctx, *req.Grants); err != nil {
			return nil, err
		}
		role.Grants = normalizeGrants(*req.Grants)
	}
	if req.DisplayName != nil {
		role.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	role.UpdatedAt = m.now().UTC()

	if err := m.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a custom role that no user holds
func (m *Manager) DeleteRole(ctx context.Context, roleID string) error {
	role, err := m.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsBuiltIn {
		return errdefs.Conflict("built-in role %s cannot be deleted", roleID)
	}
	return m.store.DeleteRole(ctx, roleID)
}

// GetRole returns one role
func (m *Manager) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return m.store.GetRole(ctx, roleID)
}

// ListRoles returns the roles usable in orgID
func (m *Manager) ListRoles(ctx context.Context, orgID string) ([]Role, error) {
	return m.store.ListRoles(ctx, orgID)
}

// AssignRole gives a user a role within an organization
func (m *Manager) AssignRole(ctx context.Context, req AssignRoleRequest) (*UserRole, error) {
	if req.UserID == "" {
		return nil, errdefs.Validation("user_id", "is required")
	}
	if req.OrganizationID == "" {
		return nil, errdefs.Validation("organization_id", "is required")
	}
	now := m.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, errdefs.Validation("expires_at", "must be in the future")
	}

	role, err := m.store.GetRole(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}
	if !role.AppliesTo(req.OrganizationID) {
		return nil, errdefs.Validation("role_id", "role %s belongs to another organization", req.RoleID)
	}

	ur := &UserRole{
		UserID:         req.UserID,
		RoleID:         req.RoleID,
		OrganizationID: req.OrganizationID,
		GrantedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := m.store.AssignRole(ctx, ur); err != nil {
		return nil, err
	}
	return ur, nil
}

// RevokeRole removes a role from a user
func (m *Manager) RevokeRole(ctx context.Context, userID, roleID, orgID string) error {
	return m.store.RevokeRole(ctx, userID, roleID, orgID)
}

// UserRoleIDs returns the ids of roles the user currently holds in orgID
func (m *Manager) UserRoleIDs(ctx context.Context, userID, orgID string) ([]string, error) {
	assignments, err := m.store.GetUserRoles(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return activeRoleIDs(assignments, m.now()), nil
}

// Grants returns the union of feature grants of roleIDs within orgID
func (m *Manager) Grants(ctx context.Context, roleIDs []string, orgID string) (map[string]struct{}, error) {
	return m.store.Grants(ctx, roleIDs, orgID)
}

// UserGrants is UserRoleIDs followed by Grants
func (m *Manager) UserGrants(ctx context.Context, userID, orgID string) (map[string]struct{}, error) {
	ids, err := m.UserRoleIDs(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return m.store.Grants(ctx, ids, orgID)
}
