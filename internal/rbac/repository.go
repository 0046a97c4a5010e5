package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackdesk/stackdesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for roles,
// permissions and assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Roles

const roleColumns = `id, name, description, is_system, parent_role_id, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.ParentID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return r, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.ParentID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	created, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (id, name, description, is_system, parent_role_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.IsSystem, role.ParentID))
	if isUniqueViolation(err) {
		return Role{}, fmt.Errorf("rbac: role %q already exists", role.Name)
	}
	return created, err
}

// UpdateRole updates name and description.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description))
	if isUniqueViolation(err) {
		return Role{}, fmt.Errorf("rbac: role %q already exists", role.Name)
	}
	return updated, err
}

// DeleteRole removes a role. Children are reparented to NULL by the
// schema's ON DELETE SET NULL.
func (r *Repository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetParent persists a parent link already vetted by the hierarchy store.
func (r *Repository) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET parent_role_id = $2, updated_at = NOW() WHERE id = $1`, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RolePermissions returns the permissions granted directly to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.object_type, p.action, p.description
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.object_type, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ReplaceRolePermissions swaps the direct grant set atomically.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				roleID, pid); err != nil {
				return err
			}
		}
		return nil
	})
}

// Permissions

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.ObjectType, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListPermissions returns the catalog, optionally filtered by type.
func (r *Repository) ListPermissions(ctx context.Context, objectType *ObjectType) ([]Permission, error) {
	query := `SELECT id, name, object_type, action, description FROM permissions`
	args := []any{}
	if objectType != nil {
		query += ` WHERE object_type = $1`
		args = append(args, *objectType)
	}
	query += ` ORDER BY object_type, action`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// FindPermission resolves a permission by its unique pair.
func (r *Repository) FindPermission(ctx context.Context, objectType ObjectType, action Action) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, object_type, action, description FROM permissions WHERE object_type = $1 AND action = $2`,
		objectType, action).Scan(&p.ID, &p.Name, &p.ObjectType, &p.Action, &p.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	return p, err
}

// EnsurePermission upserts a permission on its (object_type, action) key.
func (r *Repository) EnsurePermission(ctx context.Context, perm Permission) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (id, name, object_type, action, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (object_type, action) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, object_type, action, description`,
		perm.ID, perm.Name, perm.ObjectType, perm.Action, perm.Description).
		Scan(&p.ID, &p.Name, &p.ObjectType, &p.Action, &p.Description)
	return p, err
}

// Assignments

func (r *Repository) assignmentLocations(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, assignmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT location_id FROM role_assignment_locations WHERE assignment_id = $1 ORDER BY location_id`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const assignmentColumns = `id, role_id, subject_kind, subject_id, scope, note, granted_by, created_at, updated_at`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var kind SubjectKind
	var subjectID uuid.UUID
	var scope ScopeKind
	err := row.Scan(&a.ID, &a.RoleID, &kind, &subjectID, &scope, &a.Note, &a.GrantedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	a.Subject = Subject{Kind: kind, ID: subjectID}
	a.Scope = Scope{Kind: scope}
	return a, nil
}

// GetAssignment fetches an assignment with its location set.
func (r *Repository) GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM role_assignments WHERE id = $1`, id))
	if err != nil {
		return Assignment{}, err
	}
	if a.Scope.Kind == ScopeLocation {
		if a.Scope.Locations, err = r.assignmentLocations(ctx, r.pool, a.ID); err != nil {
			return Assignment{}, err
		}
	}
	return a, nil
}

// CreateAssignment inserts the binding and its locations atomically.
func (r *Repository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	var created Assignment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanAssignment(tx.QueryRow(ctx,
			`INSERT INTO role_assignments (id, role_id, subject_kind, subject_id, scope, note, granted_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+assignmentColumns,
			a.ID, a.RoleID, a.Subject.Kind, a.Subject.ID, a.Scope.Kind, a.Note, a.GrantedBy))
		if err != nil {
			return err
		}
		for _, loc := range a.Scope.Locations {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_assignment_locations (assignment_id, location_id) VALUES ($1, $2)`,
				created.ID, loc); err != nil {
				return err
			}
		}
		created.Scope.Locations = a.Scope.Locations
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return created, nil
}

// UpdateAssignment rewrites scope, note and the location set atomically.
func (r *Repository) UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	var updated Assignment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		updated, err = scanAssignment(tx.QueryRow(ctx,
			`UPDATE role_assignments SET scope = $2, note = $3, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+assignmentColumns,
			a.ID, a.Scope.Kind, a.Note))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_assignment_locations WHERE assignment_id = $1`, a.ID); err != nil {
			return err
		}
		for _, loc := range a.Scope.Locations {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_assignment_locations (assignment_id, location_id) VALUES ($1, $2)`,
				a.ID, loc); err != nil {
				return err
			}
		}
		updated.Scope.Locations = a.Scope.Locations
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return updated, nil
}

// DeleteAssignment removes the binding; locations cascade.
func (r *Repository) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) collectAssignments(ctx context.Context, rows pgx.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		var kind SubjectKind
		var subjectID uuid.UUID
		var scope ScopeKind
		if err := rows.Scan(&a.ID, &a.RoleID, &kind, &subjectID, &scope, &a.Note, &a.GrantedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Subject = Subject{Kind: kind, ID: subjectID}
		a.Scope = Scope{Kind: scope}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Scope.Kind != ScopeLocation {
			continue
		}
		locs, err := r.assignmentLocations(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Scope.Locations = locs
	}
	return out, nil
}

// ListForSubject returns the assignments bound directly to a subject.
func (r *Repository) ListForSubject(ctx context.Context, subject Subject) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at`,
		subject.Kind, subject.ID)
	if err != nil {
		return nil, err
	}
	return r.collectAssignments(ctx, rows)
}

// ListForRoles returns the assignments bound to any of the given roles.
func (r *Repository) ListForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE role_id = ANY($1) ORDER BY created_at`,
		roleIDs)
	if err != nil {
		return nil, err
	}
	return r.collectAssignments(ctx, rows)
}
