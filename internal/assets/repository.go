package assets

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

// Repository provides PostgreSQL backed persistence for locations,
// devices and object placements.
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

// Locations

const locationColumns = `id, name, address, parent_location_id, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	if err := row.Scan(&l.ID, &l.Name, &l.Address, &l.ParentID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.ErrNotFound
		}
		return Location{}, err
	}
	return l, nil
}

// GetLocation fetches a location by ID.
func (r *Repository) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	return scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
}

// ListLocations returns all locations ordered by name.
func (r *Repository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Address, &l.ParentID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// CreateLocation inserts a location.
func (r *Repository) CreateLocation(ctx context.Context, l Location) (Location, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	created, err := scanLocation(r.pool.QueryRow(ctx,
		`INSERT INTO locations (id, name, address, parent_location_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+locationColumns,
		l.ID, l.Name, l.Address, l.ParentID))
	if isUniqueViolation(err) {
		return Location{}, fmt.Errorf("assets: location %q already exists", l.Name)
	}
	return created, err
}

// UpdateLocation updates name, address and parent.
func (r *Repository) UpdateLocation(ctx context.Context, l Location) (Location, error) {
	return scanLocation(r.pool.QueryRow(ctx,
		`UPDATE locations SET name = $2, address = $3, parent_location_id = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+locationColumns,
		l.ID, l.Name, l.Address, l.ParentID))
}

// DeleteLocation removes a location. Devices placed there fall back to
// no location via ON DELETE SET NULL.
func (r *Repository) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LocationExists reports whether a location record exists.
func (r *Repository) LocationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// Devices

const deviceColumns = `id, name, category, serial_number, status, location_id, owner_id, created_at, updated_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	if err := row.Scan(&d.ID, &d.Name, &d.Category, &d.SerialNumber, &d.Status, &d.LocationID, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, shared.ErrNotFound
		}
		return Device{}, err
	}
	return d, nil
}

// GetDevice fetches a device by ID.
func (r *Repository) GetDevice(ctx context.Context, id uuid.UUID) (Device, error) {
	return scanDevice(r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
}

// ListDevices returns devices, optionally filtered to one location.
func (r *Repository) ListDevices(ctx context.Context, locationID *uuid.UUID, limit, offset int) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	args := []any{limit, offset}
	if locationID != nil {
		query += ` WHERE location_id = $3`
		args = append(args, *locationID)
	}
	query += ` ORDER BY name LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.SerialNumber, &d.Status, &d.LocationID, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// CreateDevice inserts a device.
func (r *Repository) CreateDevice(ctx context.Context, d Device) (Device, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	created, err := scanDevice(r.pool.QueryRow(ctx,
		`INSERT INTO devices (id, name, category, serial_number, status, location_id, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+deviceColumns,
		d.ID, d.Name, d.Category, d.SerialNumber, d.Status, d.LocationID, d.OwnerID))
	if isUniqueViolation(err) {
		return Device{}, fmt.Errorf("assets: serial number %q already registered", d.SerialNumber)
	}
	return created, err
}

// UpdateDevice updates mutable device fields, including its placement.
func (r *Repository) UpdateDevice(ctx context.Context, d Device) (Device, error) {
	updated, err := scanDevice(r.pool.QueryRow(ctx,
		`UPDATE devices
		 SET name = $2, category = $3, serial_number = $4, status = $5, location_id = $6, owner_id = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+deviceColumns,
		d.ID, d.Name, d.Category, d.SerialNumber, d.Status, d.LocationID, d.OwnerID))
	if isUniqueViolation(err) {
		return Device{}, fmt.Errorf("assets: serial number %q already registered", d.SerialNumber)
	}
	return updated, err
}

// DeleteDevice removes a device.
func (r *Repository) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeviceLocation returns the device's location, nil when unplaced or
// unknown.
func (r *Repository) DeviceLocation(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	var locationID *uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT location_id FROM devices WHERE id = $1`, id).Scan(&locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return locationID, nil
}

// Placements

// PlaceObject pins an object to a location, replacing any previous pin.
func (r *Repository) PlaceObject(ctx context.Context, p Placement) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO object_placements (object_type, object_id, location_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (object_type, object_id) DO UPDATE SET location_id = EXCLUDED.location_id, created_at = NOW()`,
		p.ObjectType, p.ObjectID, p.LocationID)
	return err
}

// RemovePlacement unpins an object.
func (r *Repository) RemovePlacement(ctx context.Context, objectType string, objectID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM object_placements WHERE object_type = $1 AND object_id = $2`, objectType, objectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PlacementLocation resolves a pinned object's location, nil when the
// object is not pinned anywhere.
func (r *Repository) PlacementLocation(ctx context.Context, objectType string, objectID uuid.UUID) (*uuid.UUID, error) {
	var locationID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT location_id FROM object_placements WHERE object_type = $1 AND object_id = $2`,
		objectType, objectID).Scan(&locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &locationID, nil
}
