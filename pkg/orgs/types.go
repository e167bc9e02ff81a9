package orgs

import (
	"context"
	"time"
)

// Organization is a tenant that users belong to
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account. PlanID is empty when no plan is assigned.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Member links a user to an organization
type Member struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Directory answers identity lookups for the resolver and usage resets.
// Unknown ids fail with a NotFoundError of kind user or organization.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	ListMemberIDs(ctx context.Context, orgID string) ([]string, error)
}

// Service is a Directory with the administrative writes
type Service interface {
	Directory

	CreateOrganization(ctx context.Context, org *Organization) error
	UpsertUser(ctx context.Context, user *User) error
	// SetUserPlan assigns planID to a user; an empty planID clears it
	SetUserPlan(ctx context.Context, userID, planID string) error
	AddMember(ctx context.Context, orgID, userID string) error
	RemoveMember(ctx context.Context, orgID, userID string) error
}
