package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/platform/httpx"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// Handler exposes the RBAC admin API and the decision debugging endpoint.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		guard:    guard,
	}
}

// MountRoutes registers the RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ActionView, ObjectGroup))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.getRole)
		r.Get("/roles/{id}/permissions", h.listRolePermissions)
		r.Get("/permissions", h.listPermissions)
		r.Get("/assignments", h.listAssignments)
		r.Get("/assignments/{id}", h.getAssignment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ActionManagePermissions, ObjectGroup))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/parent", h.setParent)
		r.Put("/roles/{id}/permissions", h.setRolePermissions)
		r.Post("/assignments", h.createAssignment)
		r.Patch("/assignments/{id}", h.updateAssignment)
		r.Delete("/assignments/{id}", h.deleteAssignment)
		r.Post("/invalidate", h.invalidate)
	})
	r.Group(func(r chi.Router) {
		// The debugging endpoint is open to any authenticated person but
		// kept behind a tighter rate limit; it answers for the caller only.
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/test-permission", h.testPermission)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var cycleErr *CycleError
	var invalidErr *InvalidAssignmentError
	var collabErr *CollaboratorError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &cycleErr):
		httpx.Problem(w, http.StatusConflict, "Hierarchy Cycle", cycleErr.Error())
	case errors.As(err, &invalidErr):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Assignment", invalidErr.Error())
	case errors.As(err, &collabErr):
		httpx.Problem(w, http.StatusBadGateway, "Collaborator Unavailable", collabErr.Error())
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) actor(r *http.Request) *uuid.UUID {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil
	}
	id, ok := sess.Person()
	if !ok {
		return nil
	}
	return &id
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// Roles

type roleResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IsSystem    bool       `json:"is_system"`
	ParentID    *uuid.UUID `json:"parent_role_id,omitempty"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystem,
		ParentID:    role.ParentID,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ancestors, err := h.service.Ancestors(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	chain := make([]roleResponse, 0, len(ancestors))
	for _, anc := range ancestors {
		chain = append(chain, toRoleResponse(anc))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": toRoleResponse(role), "ancestors": chain})
}

type createRoleRequest struct {
	Name        string     `json:"name" validate:"required,max=100"`
	Description string     `json:"description"`
	IsSystem    bool       `json:"is_system"`
	ParentID    *uuid.UUID `json:"parent_role_id"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), h.actor(r), Role{
		Name:        req.Name,
		Description: req.Description,
		IsSystem:    req.IsSystem,
		ParentID:    req.ParentID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"role": toRoleResponse(role)})
}

type updateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.UpdateRole(r.Context(), h.actor(r), id, req.Name, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": toRoleResponse(role)})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	if err := h.service.DeleteRole(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setParentRequest struct {
	ParentID *uuid.UUID `json:"parent_role_id"`
}

func (h *Handler) setParent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	var req setParentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.SetParent(r.Context(), h.actor(r), id, req.ParentID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type effectivePermissionResponse struct {
	Permission permissionResponse `json:"permission"`
	Inherited  bool               `json:"inherited"`
	FromRoleID uuid.UUID          `json:"from_role_id"`
	FromRole   string             `json:"from_role"`
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	includeInherited := r.URL.Query().Get("include_inherited") != "false"
	perms, err := h.service.ListEffectivePermissions(r.Context(), id, includeInherited)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]effectivePermissionResponse, 0, len(perms))
	for _, ep := range perms {
		out = append(out, effectivePermissionResponse{
			Permission: toPermissionResponse(ep.Permission),
			Inherited:  ep.Inherited,
			FromRoleID: ep.FromRoleID,
			FromRole:   ep.FromRole,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type setRolePermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids" validate:"required"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role id must be a UUID")
		return
	}
	var req setRolePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), h.actor(r), id, req.PermissionIDs); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Permissions

type permissionResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	ObjectType ObjectType `json:"object_type"`
	Action     Action     `json:"action"`
}

func toPermissionResponse(p Permission) permissionResponse {
	return permissionResponse{ID: p.ID, Name: p.Name, ObjectType: p.ObjectType, Action: p.Action}
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	var filter *ObjectType
	if raw := r.URL.Query().Get("object_type"); raw != "" {
		t := ObjectType(raw)
		filter = &t
	}
	perms, err := h.service.ListPermissions(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

// Assignments

type assignmentResponse struct {
	ID        uuid.UUID   `json:"id"`
	RoleID    uuid.UUID   `json:"role_id"`
	Subject   subjectBody `json:"subject"`
	Scope     ScopeKind   `json:"scope"`
	Locations []uuid.UUID `json:"locations,omitempty"`
	Note      string      `json:"note,omitempty"`
	GrantedBy *uuid.UUID  `json:"granted_by,omitempty"`
}

type subjectBody struct {
	Kind SubjectKind `json:"kind" validate:"required,oneof=person group"`
	ID   uuid.UUID   `json:"id" validate:"required"`
}

func toAssignmentResponse(a Assignment) assignmentResponse {
	return assignmentResponse{
		ID:        a.ID,
		RoleID:    a.RoleID,
		Subject:   subjectBody{Kind: a.Subject.Kind, ID: a.Subject.ID},
		Scope:     a.Scope.Kind,
		Locations: a.Scope.Locations,
		Note:      a.Note,
		GrantedBy: a.GrantedBy,
	}
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if roleID := q.Get("role_id"); roleID != "" {
		id, err := uuid.Parse(roleID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "role_id must be a UUID")
			return
		}
		assignments, err := h.service.ListAssignmentsForRole(r.Context(), id)
		if err != nil {
			h.respondError(w, err)
			return
		}
		h.writeAssignments(w, assignments)
		return
	}
	kind := SubjectKind(q.Get("subject_kind"))
	subjectID, err := uuid.Parse(q.Get("subject_id"))
	if err != nil || (kind != SubjectPerson && kind != SubjectGroup) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "provide role_id or subject_kind+subject_id")
		return
	}
	assignments, err := h.service.ListAssignmentsForSubject(r.Context(), Subject{Kind: kind, ID: subjectID})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.writeAssignments(w, assignments)
}

func (h *Handler) writeAssignments(w http.ResponseWriter, assignments []Assignment) {
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, toAssignmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": out})
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "assignment id must be a UUID")
		return
	}
	a, err := h.service.GetAssignment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignment": toAssignmentResponse(a)})
}

type createAssignmentRequest struct {
	RoleID    uuid.UUID   `json:"role_id" validate:"required"`
	Subject   subjectBody `json:"subject" validate:"required"`
	Scope     ScopeKind   `json:"scope" validate:"required,oneof=global location specific_objects"`
	Locations []uuid.UUID `json:"location_ids"`
	Note      string      `json:"note"`
}

func (h *Handler) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateAssignment(r.Context(), h.actor(r), Assignment{
		RoleID:  req.RoleID,
		Subject: Subject{Kind: req.Subject.Kind, ID: req.Subject.ID},
		Scope:   Scope{Kind: req.Scope, Locations: req.Locations},
		Note:    req.Note,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"assignment": toAssignmentResponse(created)})
}

type updateAssignmentRequest struct {
	Scope     *ScopeKind  `json:"scope" validate:"omitempty,oneof=global location specific_objects"`
	Locations []uuid.UUID `json:"location_ids"`
	Note      *string     `json:"note"`
}

func (h *Handler) updateAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "assignment id must be a UUID")
		return
	}
	var req updateAssignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	patch := AssignmentPatch{Note: req.Note}
	if req.Scope != nil {
		patch.Scope = &Scope{Kind: *req.Scope, Locations: req.Locations}
	}
	updated, err := h.service.UpdateAssignment(r.Context(), h.actor(r), id, patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignment": toAssignmentResponse(updated)})
}

func (h *Handler) deleteAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "assignment id must be a UUID")
		return
	}
	if err := h.service.DeleteAssignment(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cache + decision endpoints

type invalidateRequest struct {
	Subject subjectBody `json:"subject" validate:"required"`
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Invalidate(r.Context(), Subject{Kind: req.Subject.Kind, ID: req.Subject.ID}); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testPermissionRequest struct {
	Action     Action     `json:"action" validate:"required"`
	ObjectType ObjectType `json:"object_type" validate:"required"`
	ObjectID   *uuid.UUID `json:"object_id"`
}

// testPermission answers "may I do this?" for the calling person,
// returning the full decision trace for debugging and audit review.
func (h *Handler) testPermission(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in to test permissions")
		return
	}
	var req testPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.service.Decide(r.Context(), *actor, req.Action, req.ObjectType, req.ObjectID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}
