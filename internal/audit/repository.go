package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit_logs table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Window returns one page of timeline entries plus the matching total.
func (r *Repository) Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error) {
	where, args := buildWhere(filters)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT a.occurred_at, a.actor_id, COALESCE(p.name, ''), a.action, a.entity, a.entity_id, a.meta
		 FROM audit_logs a
		 LEFT JOIN people p ON p.id = a.actor_id` + where +
		fmt.Sprintf(` ORDER BY a.occurred_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.At, &e.ActorID, &e.ActorName, &e.Action, &e.Entity, &e.EntityID, &meta); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func buildWhere(filters TimelineFilters) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("a.occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("a.occurred_at <= $%d", filters.To)
	}
	if filters.ActorID != nil {
		add("a.actor_id = $%d", *filters.ActorID)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("a.entity = $%d", entity)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("a.action = $%d", action)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
