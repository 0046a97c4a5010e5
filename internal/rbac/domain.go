package rbac

import (
	"time"

	"github.com/google/uuid"
)

// ObjectType enumerates the asset classes permissions can target.
type ObjectType string

// Known object types, mirroring the persisted enumeration.
const (
	ObjectCompany              ObjectType = "company"
	ObjectLocation             ObjectType = "location"
	ObjectRoom                 ObjectType = "room"
	ObjectPerson               ObjectType = "person"
	ObjectDevice               ObjectType = "device"
	ObjectIO                   ObjectType = "io"
	ObjectIPAddress            ObjectType = "ip_address"
	ObjectNetwork              ObjectType = "network"
	ObjectSoftware             ObjectType = "software"
	ObjectSaaSService          ObjectType = "saas_service"
	ObjectInstalledApplication ObjectType = "installed_application"
	ObjectSoftwareLicense      ObjectType = "software_license"
	ObjectDocument             ObjectType = "document"
	ObjectExternalDocument     ObjectType = "external_document"
	ObjectContract             ObjectType = "contract"
	ObjectGroup                ObjectType = "group"
)

// ObjectTypes returns every known object type in catalog order.
func ObjectTypes() []ObjectType {
	return []ObjectType{
		ObjectCompany, ObjectLocation, ObjectRoom, ObjectPerson,
		ObjectDevice, ObjectIO, ObjectIPAddress, ObjectNetwork,
		ObjectSoftware, ObjectSaaSService, ObjectInstalledApplication,
		ObjectSoftwareLicense, ObjectDocument, ObjectExternalDocument,
		ObjectContract, ObjectGroup,
	}
}

// Valid reports whether the object type belongs to the enumeration.
func (t ObjectType) Valid() bool {
	for _, known := range ObjectTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Action enumerates the operations a permission can authorize.
type Action string

const (
	ActionView              Action = "view"
	ActionEdit              Action = "edit"
	ActionDelete            Action = "delete"
	ActionManagePermissions Action = "manage_permissions"
)

// Actions returns every known action.
func Actions() []Action {
	return []Action{ActionView, ActionEdit, ActionDelete, ActionManagePermissions}
}

// Valid reports whether the action belongs to the enumeration.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionDelete, ActionManagePermissions:
		return true
	}
	return false
}

// Role is a named grouping of permissions. Roles form a forest through
// ParentID; a role inherits every permission directly granted to any of
// its ancestors. System roles cannot be deleted or stripped bare.
type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsSystem    bool
	ParentID    *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an atomic capability identified by (object type, action).
type Permission struct {
	ID          uuid.UUID
	Name        string
	ObjectType  ObjectType
	Action      Action
	Description string
}

// Key returns the catalog key for the permission.
func (p Permission) Key() PermKey {
	return PermKey{ObjectType: p.ObjectType, Action: p.Action}
}

// PermKey identifies a permission by its unique (object type, action) pair.
type PermKey struct {
	ObjectType ObjectType
	Action     Action
}

func (k PermKey) String() string {
	return string(k.Action) + " " + string(k.ObjectType)
}

// SubjectKind discriminates the two kinds of assignable subjects.
type SubjectKind string

const (
	SubjectPerson SubjectKind = "person"
	SubjectGroup  SubjectKind = "group"
)

// Subject is the holder of a role assignment: exactly one person or one
// group, never both.
type Subject struct {
	Kind SubjectKind
	ID   uuid.UUID
}

// PersonSubject builds a person subject.
func PersonSubject(id uuid.UUID) Subject {
	return Subject{Kind: SubjectPerson, ID: id}
}

// GroupSubject builds a group subject.
func GroupSubject(id uuid.UUID) Subject {
	return Subject{Kind: SubjectGroup, ID: id}
}

// Key returns the cache key for the subject.
func (s Subject) Key() string {
	return string(s.Kind) + ":" + s.ID.String()
}

func (s Subject) String() string {
	return s.Key()
}

// ScopeKind discriminates the breadth of a role assignment.
type ScopeKind string

const (
	ScopeGlobal          ScopeKind = "global"
	ScopeLocation        ScopeKind = "location"
	ScopeSpecificObjects ScopeKind = "specific_objects"
)

// Scope is a tagged variant: Locations is populated exactly when Kind is
// ScopeLocation. Use the constructors so invalid combinations cannot be
// built outside this package.
type Scope struct {
	Kind      ScopeKind
	Locations []uuid.UUID
}

// GlobalScope applies to every object of every type.
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// LocationScope restricts an assignment to objects resolved to one of the
// given locations. At least one location is required; Validate enforces it.
func LocationScope(locations ...uuid.UUID) Scope {
	return Scope{Kind: ScopeLocation, Locations: locations}
}

// SpecificObjectsScope restricts an assignment to individually overridden
// object instances.
func SpecificObjectsScope() Scope {
	return Scope{Kind: ScopeSpecificObjects}
}

// Validate checks the scope/location invariants.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal, ScopeSpecificObjects:
		if len(s.Locations) > 0 {
			return &InvalidAssignmentError{Reason: "locations are only valid for location scope"}
		}
	case ScopeLocation:
		if len(s.Locations) == 0 {
			return &InvalidAssignmentError{Reason: "location scope requires at least one location"}
		}
	default:
		return &InvalidAssignmentError{Reason: "unknown scope " + string(s.Kind)}
	}
	return nil
}

// ContainsLocation reports whether the scope covers the given location.
func (s Scope) ContainsLocation(id uuid.UUID) bool {
	for _, loc := range s.Locations {
		if loc == id {
			return true
		}
	}
	return false
}

// Assignment binds a role to a subject with a scope.
type Assignment struct {
	ID        uuid.UUID
	RoleID    uuid.UUID
	Subject   Subject
	Scope     Scope
	Note      string
	GrantedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectivePermission is a permission reachable from a role, annotated
// with where it came from.
type EffectivePermission struct {
	Permission Permission
	Inherited  bool
	FromRoleID uuid.UUID
	FromRole   string
}

// Decision is the outcome of a permission check. Denial is an ordinary
// value, never an error; Trace is non-empty either way.
type Decision struct {
	Granted bool     `json:"granted"`
	Reason  string   `json:"reason"`
	Trace   []string `json:"trace"`
}

// Grant is one (permission, scope) pair inside a resolved set, retaining
// enough provenance to explain a decision.
type Grant struct {
	AssignmentID uuid.UUID
	RoleID       uuid.UUID
	RoleName     string
	Scope        Scope
	Permission   Permission
	Inherited    bool
	FromRoleID   uuid.UUID
	FromRole     string
}

// AssignmentRef is a lightweight view of an assignment kept in resolved
// sets so denials can cite every assignment considered.
type AssignmentRef struct {
	AssignmentID uuid.UUID
	RoleID       uuid.UUID
	RoleName     string
	Scope        Scope
}

// ResolvedSet is the fully expanded permission set for one subject:
// every grant reachable through its assignments, role inheritance
// included, tagged with the cache epoch it was computed under.
type ResolvedSet struct {
	Subject     Subject
	Version     int64
	Assignments []AssignmentRef
	Grants      map[PermKey][]Grant
}
