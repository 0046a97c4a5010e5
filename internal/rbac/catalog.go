package rbac

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PermissionRepository defines persistence for the permission catalog.
type PermissionRepository interface {
	ListPermissions(ctx context.Context, objectType *ObjectType) ([]Permission, error)
	FindPermission(ctx context.Context, objectType ObjectType, action Action) (Permission, error)
	EnsurePermission(ctx context.Context, perm Permission) (Permission, error)
}

// Catalog is the read-mostly registry of (object type, action) pairs.
type Catalog struct {
	repo PermissionRepository
}

// NewCatalog constructs a Catalog.
func NewCatalog(repo PermissionRepository) *Catalog {
	return &Catalog{repo: repo}
}

// List returns permissions, optionally filtered to one object type.
func (c *Catalog) List(ctx context.Context, objectType *ObjectType) ([]Permission, error) {
	if objectType != nil && !objectType.Valid() {
		return nil, ErrNotFound
	}
	return c.repo.ListPermissions(ctx, objectType)
}

// Find resolves the permission identity for (objectType, action),
// returning ErrNotFound when the pair is not cataloged.
func (c *Catalog) Find(ctx context.Context, objectType ObjectType, action Action) (Permission, error) {
	if !objectType.Valid() || !action.Valid() {
		return Permission{}, ErrNotFound
	}
	return c.repo.FindPermission(ctx, objectType, action)
}

// Ensure upserts a permission, generating its display name when absent.
func (c *Catalog) Ensure(ctx context.Context, objectType ObjectType, action Action, description string) (Permission, error) {
	if !objectType.Valid() {
		return Permission{}, &InvalidAssignmentError{Reason: "unknown object type " + string(objectType)}
	}
	if !action.Valid() {
		return Permission{}, &InvalidAssignmentError{Reason: "unknown action " + string(action)}
	}
	return c.repo.EnsurePermission(ctx, Permission{
		ID:          uuid.New(),
		Name:        PermissionDisplayName(objectType, action),
		ObjectType:  objectType,
		Action:      action,
		Description: strings.TrimSpace(description),
	})
}

// Seed ensures the full object-type by action matrix exists. Idempotent;
// run at startup and after adding object types.
func (c *Catalog) Seed(ctx context.Context) error {
	for _, t := range ObjectTypes() {
		for _, a := range Actions() {
			if _, err := c.Ensure(ctx, t, a, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

var displayCaser = cases.Title(language.English)

// PermissionDisplayName renders a human readable permission name, e.g.
// "Manage Permissions: Saas Service".
func PermissionDisplayName(objectType ObjectType, action Action) string {
	humanize := func(s string) string {
		return displayCaser.String(strings.ReplaceAll(s, "_", " "))
	}
	return humanize(string(action)) + ": " + humanize(string(objectType))
}
