package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/entitlements/pkg/errdefs"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
)

// Store persists roles and role assignments
type Store interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	// ListRoles returns the roles usable in orgID, built-in roles included
	ListRoles(ctx context.Context, orgID string) ([]Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	// DeleteRole fails with a ConflictError while any user holds the role
	DeleteRole(ctx context.Context, roleID string) error

	AssignRole(ctx context.Context, ur *UserRole) error
	RevokeRole(ctx context.Context, userID, roleID, orgID string) error
	// GetUserRoles returns the assignments of userID in orgID, expired ones included
	GetUserRoles(ctx context.Context, userID, orgID string) ([]UserRole, error)

	// Grants returns the union of feature grants of roleIDs usable in orgID.
	// Unknown role ids fail with a NotFoundError.
	Grants(ctx context.Context, roleIDs []string, orgID string) (map[string]struct{}, error)
}

// SQLStore is a Store backed by database/sql (PostgreSQL in production)
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed role store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const roleColumns = `id, organization_id, name, display_name, description, grants, is_built_in, created_at, updated_at`

// CreateRole inserts a role
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	grantsJSON, err := json.Marshal(normalizeGrants(role.Grants))
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	query := `
		INSERT INTO roles (id, organization_id, name, display_name, description, grants, is_built_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		nullString(role.OrganizationID),
		role.Name,
		role.DisplayName,
		role.Description,
		string(grantsJSON),
		role.IsBuiltIn,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return errdefs.Conflict("role %q already exists in organization %q", role.Name, role.OrganizationID)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (s *SQLStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errdefs.KindRole, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists roles of orgID plus built-in roles, ordered by name
func (s *SQLStore) ListRoles(ctx context.Context, orgID string) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE organization_id = $1 OR organization_id IS NULL
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole writes the mutable fields of role
func (s *SQLStore) UpdateRole(ctx context.Context, role *Role) error {
	grantsJSON, err := json.Marshal(normalizeGrants(role.Grants))
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	query := `
		UPDATE roles
		SET display_name = $1, description = $2, grants = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		role.DisplayName,
		role.Description,
		string(grantsJSON),
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errdefs.NotFound(errdefs.KindRole, role.ID)
	}
	return nil
}

// DeleteRole removes an unused role
func (s *SQLStore) DeleteRole(ctx context.Context, roleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var holders int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&holders); err != nil {
		return fmt.Errorf("failed to count role holders: %w", err)
	}
	if holders > 0 {
		return errdefs.Conflict("role %s is assigned to %d user(s)", roleID, holders)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errdefs.NotFound(errdefs.KindRole, roleID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role delete: %w", err)
	}
	return nil
}

// AssignRole upserts a role assignment. The role must exist.
func (s *SQLStore) AssignRole(ctx context.Context, ur *UserRole) error {
	query := `
		INSERT INTO user_roles (user_id, role_id, organization_id, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id, organization_id)
		DO UPDATE SET granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query, ur.UserID, ur.RoleID, ur.OrganizationID, ur.GrantedAt, ur.ExpiresAt)
	if postgres.IsForeignKeyViolation(err) {
		return errdefs.NotFound(errdefs.KindRole, ur.RoleID)
	}
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes an assignment; revoking a missing assignment is a no-op
func (s *SQLStore) RevokeRole(ctx context.Context, userID, roleID, orgID string) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND organization_id = $3`
	if _, err := s.db.ExecContext(ctx, query, userID, roleID, orgID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// GetUserRoles lists the assignments of a user in an organization
func (s *SQLStore) GetUserRoles(ctx context.Context, userID, orgID string) ([]UserRole, error) {
	query := `
		SELECT user_id, role_id, organization_id, granted_at, expires_at
		FROM user_roles
		WHERE user_id = $1 AND organization_id = $2
		ORDER BY granted_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var ur UserRole
		var expiresAt sql.NullTime
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.OrganizationID, &ur.GrantedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			ur.ExpiresAt = &t
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

// Grants unions the grants of roleIDs
func (s *SQLStore) Grants(ctx context.Context, roleIDs []string, orgID string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(roleIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := `SELECT id, organization_id, grants FROM roles WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load role grants: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(roleIDs))
	for rows.Next() {
		var id, grantsJSON string
		var roleOrg sql.NullString
		if err := rows.Scan(&id, &roleOrg, &grantsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan role grants: %w", err)
		}
		found[id] = struct{}{}
		if roleOrg.Valid && roleOrg.String != "" && roleOrg.String != orgID {
			continue
		}
		var grants []string
		if err := json.Unmarshal([]byte(grantsJSON), &grants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grants of role %s: %w", id, err)
		}
		for _, slug := range grants {
			out[slug] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range roleIDs {
		if _, ok := found[id]; !ok {
			return nil, errdefs.NotFound(errdefs.KindRole, id)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var orgID sql.NullString
	var grantsJSON string

	err := row.Scan(
		&role.ID,
		&orgID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&grantsJSON,
		&role.IsBuiltIn,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.OrganizationID = orgID.String
	if err := json.Unmarshal([]byte(grantsJSON), &role.Grants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grants: %w", err)
	}
	return &role, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLStore)(nil)

// activeRoleIDs filters assignments down to role ids in effect at now
func activeRoleIDs(assignments []UserRole, now time.Time) []string {
	ids := make([]string, 0, len(assignments))
	for _, ur := range assignments {
		if ur.Active(now) {
			ids = append(ids, ur.RoleID)
		}
	}
	return ids
}
