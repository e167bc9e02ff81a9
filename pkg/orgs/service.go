package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
)

// PostgresService implements Service on the organizations, users and
// organization_members tables
type PostgresService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed directory
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, now: time.Now}
}

// CreateOrganization inserts an organization
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = s.now().UTC()
	}
	query := `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, org.ID, org.Name, org.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return errdefs.Conflict("organization %s already exists", org.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := `SELECT id, name, created_at FROM organizations WHERE id = $1`

	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errdefs.KindOrganization, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// UpsertUser creates a user or updates its email and plan
func (s *PostgresService) UpsertUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	query := `
		INSERT INTO users (id, email, plan_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, plan_id = EXCLUDED.plan_id
	`
	_, err := s.db.ExecContext(ctx, query, user.ID, nullString(user.Email), nullString(user.PlanID), user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *PostgresService) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `SELECT id, email, plan_id, created_at FROM users WHERE id = $1`

	user := &User{}
	var email, planID sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.ID, &email, &planID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errdefs.KindUser, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Email = email.String
	user.PlanID = planID.String
	return user, nil
}

// SetUserPlan changes the plan assigned to a user
func (s *PostgresService) SetUserPlan(ctx context.Context, userID, planID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET plan_id = $1 WHERE id = $2`, nullString(planID), userID)
	if err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	return requireRow(res, errdefs.KindUser, userID)
}

// AddMember adds a user to an organization; adding twice is a no-op
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID string) error {
	query := `
		INSERT INTO organization_members (organization_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from an organization
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID string) error {
	query := `DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, orgID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// ListMemberIDs returns the user ids of an organization's members. An
// unknown organization fails with a NotFoundError.
func (s *PostgresService) ListMemberIDs(ctx context.Context, orgID string) ([]string, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	query := `SELECT user_id FROM organization_members WHERE organization_id = $1 ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound(kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Service = (*PostgresService)(nil)
