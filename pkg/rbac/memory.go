package rbac

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

type assignmentKey struct {
	userID, roleID, orgID string
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]Role
	assignments map[assignmentKey]UserRole
}

// NewMemoryStore creates an empty in-memory role store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]Role),
		assignments: make(map[assignmentKey]UserRole),
	}
}

func cloneRole(r Role) Role {
	r.Grants = append([]string(nil), r.Grants...)
	return r
}

func (s *MemoryStore) CreateRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[role.ID]; exists {
		return errdefs.Conflict("role %s already exists", role.ID)
	}
	for _, r := range s.roles {
		if r.Name == role.Name && r.OrganizationID == role.OrganizationID {
			return errdefs.Conflict("role %q already exists in organization %q", role.Name, role.OrganizationID)
		}
	}
	r := cloneRole(*role)
	r.Grants = normalizeGrants(r.Grants)
	s.roles[role.ID] = r
	return nil
}

func (s *MemoryStore) GetRole(_ context.Context, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindRole, roleID)
	}
	r = cloneRole(r)
	return &r, nil
}

func (s *MemoryStore) ListRoles(_ context.Context, orgID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for _, r := range s.roles {
		if r.AppliesTo(orgID) {
			out = append(out, cloneRole(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[role.ID]
	if !ok {
		return errdefs.NotFound(errdefs.KindRole, role.ID)
	}
	cur.DisplayName = role.DisplayName
	cur.Description = role.Description
	cur.Grants = normalizeGrants(role.Grants)
	cur.UpdatedAt = role.UpdatedAt
	s.roles[role.ID] = cur
	return nil
}

func (s *MemoryStore) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return errdefs.NotFound(errdefs.KindRole, roleID)
	}
	holders := 0
	for k := range s.assignments {
		if k.roleID == roleID {
			holders++
		}
	}
	if holders > 0 {
		return errdefs.Conflict("role %s is assigned to %d user(s)", roleID, holders)
	}
	delete(s.roles, roleID)
	return nil
}

func (s *MemoryStore) AssignRole(_ context.Context, ur *UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[ur.RoleID]; !ok {
		return errdefs.NotFound(errdefs.KindRole, ur.RoleID)
	}
	s.assignments[assignmentKey{ur.UserID, ur.RoleID, ur.OrganizationID}] = *ur
	return nil
}

func (s *MemoryStore) RevokeRole(_ context.Context, userID, roleID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, assignmentKey{userID, roleID, orgID})
	return nil
}

func (s *MemoryStore) GetUserRoles(_ context.Context, userID, orgID string) ([]UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UserRole
	for k, ur := range s.assignments {
		if k.userID == userID && k.orgID == orgID {
			out = append(out, ur)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *MemoryStore) Grants(_ context.Context, roleIDs []string, orgID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, id := range roleIDs {
		r, ok := s.roles[id]
		if !ok {
			return nil, errdefs.NotFound(errdefs.KindRole, id)
		}
		if !r.AppliesTo(orgID) {
			continue
		}
		for _, slug := range r.Grants {
			out[slug] = struct{}{}
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
