package overrides

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/platform/httpx"
	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// Handler exposes override administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		guard:    guard,
	}
}

// MountRoutes registers override routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionManagePermissions, rbac.ObjectGroup))
		r.Get("/", h.list)
		r.Post("/", h.grant)
		r.Delete("/{id}", h.revoke)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalidErr *rbac.InvalidAssignmentError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &invalidErr):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Override", invalidErr.Error())
	default:
		h.logger.Error("overrides handler", slog.Any("error", err))
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

type overrideResponse struct {
	ID         uuid.UUID       `json:"id"`
	Subject    subjectBody     `json:"subject"`
	RoleID     uuid.UUID       `json:"role_id"`
	ObjectType rbac.ObjectType `json:"object_type"`
	ObjectID   uuid.UUID       `json:"object_id"`
	CreatedBy  *uuid.UUID      `json:"created_by,omitempty"`
}

type subjectBody struct {
	Kind rbac.SubjectKind `json:"kind" validate:"required,oneof=person group"`
	ID   uuid.UUID        `json:"id" validate:"required"`
}

func toOverrideResponse(o Override) overrideResponse {
	return overrideResponse{
		ID:         o.ID,
		Subject:    subjectBody{Kind: o.Subject.Kind, ID: o.Subject.ID},
		RoleID:     o.RoleID,
		ObjectType: o.ObjectType,
		ObjectID:   o.ObjectID,
		CreatedBy:  o.CreatedBy,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := rbac.SubjectKind(q.Get("subject_kind"))
	subjectID, err := uuid.Parse(q.Get("subject_id"))
	if err != nil || (kind != rbac.SubjectPerson && kind != rbac.SubjectGroup) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "provide subject_kind and subject_id")
		return
	}
	list, err := h.service.ListForSubject(r.Context(), rbac.Subject{Kind: kind, ID: subjectID})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]overrideResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOverrideResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": out})
}

type grantRequest struct {
	Subject    subjectBody     `json:"subject" validate:"required"`
	RoleID     uuid.UUID       `json:"role_id" validate:"required"`
	ObjectType rbac.ObjectType `json:"object_type" validate:"required"`
	ObjectID   uuid.UUID       `json:"object_id" validate:"required"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.Grant(r.Context(), h.actor(r), Override{
		Subject:    rbac.Subject{Kind: req.Subject.Kind, ID: req.Subject.ID},
		RoleID:     req.RoleID,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"override": toOverrideResponse(created)})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "override id must be a UUID")
		return
	}
	if err := h.service.Revoke(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
