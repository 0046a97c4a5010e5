package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackdesk/stackdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for people, groups
// and group membership.
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

// People

const personColumns = `id, name, email, is_active, created_at, updated_at`

func scanPerson(row pgx.Row) (Person, error) {
	var p Person
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, shared.ErrNotFound
		}
		return Person{}, err
	}
	return p, nil
}

// GetPerson fetches a person by ID.
func (r *Repository) GetPerson(ctx context.Context, id uuid.UUID) (Person, error) {
	return scanPerson(r.pool.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, id))
}

// ListPeople returns people ordered by name, paginated.
func (r *Repository) ListPeople(ctx context.Context, limit, offset int) ([]Person, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+personColumns+` FROM people ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// CreatePerson inserts a person.
func (r *Repository) CreatePerson(ctx context.Context, p Person) (Person, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	created, err := scanPerson(r.pool.QueryRow(ctx,
		`INSERT INTO people (id, name, email, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+personColumns,
		p.ID, p.Name, p.Email, p.IsActive))
	if isUniqueViolation(err) {
		return Person{}, fmt.Errorf("directory: email %q already registered", p.Email)
	}
	return created, err
}

// UpdatePerson updates a person's profile fields.
func (r *Repository) UpdatePerson(ctx context.Context, p Person) (Person, error) {
	updated, err := scanPerson(r.pool.QueryRow(ctx,
		`UPDATE people SET name = $2, email = $3, is_active = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+personColumns,
		p.ID, p.Name, p.Email, p.IsActive))
	if isUniqueViolation(err) {
		return Person{}, fmt.Errorf("directory: email %q already registered", p.Email)
	}
	return updated, err
}

// DeletePerson removes a person. Memberships and assignments cascade in
// the schema.
func (r *Repository) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM people WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Groups

const groupColumns = `id, name, description, created_at, updated_at`

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, shared.ErrNotFound
		}
		return Group{}, err
	}
	return g, nil
}

// GetGroup fetches a group by ID.
func (r *Repository) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	return scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
}

// ListGroups returns all groups ordered by name.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateGroup inserts a group.
func (r *Repository) CreateGroup(ctx context.Context, g Group) (Group, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	created, err := scanGroup(r.pool.QueryRow(ctx,
		`INSERT INTO groups (id, name, description)
		 VALUES ($1, $2, $3)
		 RETURNING `+groupColumns,
		g.ID, g.Name, g.Description))
	if isUniqueViolation(err) {
		return Group{}, fmt.Errorf("directory: group %q already exists", g.Name)
	}
	return created, err
}

// UpdateGroup updates name and description.
func (r *Repository) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	updated, err := scanGroup(r.pool.QueryRow(ctx,
		`UPDATE groups SET name = $2, description = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+groupColumns,
		g.ID, g.Name, g.Description))
	if isUniqueViolation(err) {
		return Group{}, fmt.Errorf("directory: group %q already exists", g.Name)
	}
	return updated, err
}

// DeleteGroup removes a group and its memberships.
func (r *Repository) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Membership

// AddMember links a person into a group. Idempotent.
func (r *Repository) AddMember(ctx context.Context, groupID, personID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, person_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		groupID, personID)
	return err
}

// RemoveMember unlinks a person from a group.
func (r *Repository) RemoveMember(ctx context.Context, groupID, personID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND person_id = $2`, groupID, personID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MembersOf lists the people in a group.
func (r *Repository) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT person_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// GroupsOf lists the groups a person belongs to.
func (r *Repository) GroupsOf(ctx context.Context, personID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT group_id FROM group_members WHERE person_id = $1`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// PersonExists reports whether an active person record exists.
func (r *Repository) PersonExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM people WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// GroupExists reports whether a group record exists.
func (r *Repository) GroupExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
