package overrides

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for object
// overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const overrideColumns = `id, subject_kind, subject_id, role_id, object_type, object_id, created_by, created_at`

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	if err := row.Scan(&o.ID, &o.Subject.Kind, &o.Subject.ID, &o.RoleID, &o.ObjectType, &o.ObjectID, &o.CreatedBy, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, shared.ErrNotFound
		}
		return Override{}, err
	}
	return o, nil
}

// Create inserts an override. Idempotent on the full grant tuple.
func (r *Repository) Create(ctx context.Context, o Override) (Override, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return scanOverride(r.pool.QueryRow(ctx,
		`INSERT INTO object_overrides (id, subject_kind, subject_id, role_id, object_type, object_id, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (subject_kind, subject_id, role_id, object_type, object_id) DO UPDATE SET created_by = EXCLUDED.created_by
		 RETURNING `+overrideColumns,
		o.ID, o.Subject.Kind, o.Subject.ID, o.RoleID, o.ObjectType, o.ObjectID, o.CreatedBy))
}

// Delete removes an override by ID.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM object_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListForSubject returns every override held by a subject.
func (r *Repository) ListForSubject(ctx context.Context, subject rbac.Subject) ([]Override, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+overrideColumns+` FROM object_overrides
		 WHERE subject_kind = $1 AND subject_id = $2
		 ORDER BY created_at`,
		subject.Kind, subject.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.ID, &o.Subject.Kind, &o.Subject.ID, &o.RoleID, &o.ObjectType, &o.ObjectID, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// IsGranted answers the resolution engine's per-object whitelist check.
func (r *Repository) IsGranted(ctx context.Context, subject rbac.Subject, roleID uuid.UUID, objectType rbac.ObjectType, objectID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM object_overrides
			WHERE subject_kind = $1 AND subject_id = $2 AND role_id = $3 AND object_type = $4 AND object_id = $5
		 )`,
		subject.Kind, subject.ID, roleID, objectType, objectID).Scan(&exists)
	return exists, err
}
