package orgs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
)

// MemoryService is an in-process Service
type MemoryService struct {
	mu      sync.RWMutex
	orgs    map[string]Organization
	users   map[string]User
	members map[string]map[string]time.Time
}

// NewMemoryService creates an empty in-memory directory
func NewMemoryService() *MemoryService {
	return &MemoryService{
		orgs:    make(map[string]Organization),
		users:   make(map[string]User),
		members: make(map[string]map[string]time.Time),
	}
}

func (s *MemoryService) CreateOrganization(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return errdefs.Conflict("organization %s already exists", org.ID)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *MemoryService) GetOrganization(_ context.Context, orgID string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindOrganization, orgID)
	}
	return &org, nil
}

func (s *MemoryService) UpsertUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryService) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, errdefs.NotFound(errdefs.KindUser, userID)
	}
	return &user, nil
}

func (s *MemoryService) SetUserPlan(_ context.Context, userID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return errdefs.NotFound(errdefs.KindUser, userID)
	}
	user.PlanID = planID
	s.users[userID] = user
	return nil
}

func (s *MemoryService) AddMember(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID]; !ok {
		return errdefs.NotFound(errdefs.KindOrganization, orgID)
	}
	if _, ok := s.users[userID]; !ok {
		return errdefs.NotFound(errdefs.KindUser, userID)
	}
	m := s.members[orgID]
	if m == nil {
		m = make(map[string]time.Time)
		s.members[orgID] = m
	}
	if _, ok := m[userID]; !ok {
		m[userID] = time.Now().UTC()
	}
	return nil
}

func (s *MemoryService) RemoveMember(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[orgID], userID)
	return nil
}

func (s *MemoryService) ListMemberIDs(_ context.Context, orgID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[orgID]; !ok {
		return nil, errdefs.NotFound(errdefs.KindOrganization, orgID)
	}
	ids := make([]string, 0, len(s.members[orgID]))
	for id := range s.members[orgID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Service = (*MemoryService)(nil)
