package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/platform/httpx"
	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// Handler exposes the directory JSON API.
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

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionView, rbac.ObjectPerson))
		r.Get("/people", h.listPeople)
		r.Get("/people/{id}", h.getPerson)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionEdit, rbac.ObjectPerson))
		r.Post("/people", h.createPerson)
		r.Put("/people/{id}", h.updatePerson)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionDelete, rbac.ObjectPerson))
		r.Delete("/people/{id}", h.deletePerson)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionView, rbac.ObjectGroup))
		r.Get("/groups", h.listGroups)
		r.Get("/groups/{id}", h.getGroup)
		r.Get("/groups/{id}/members", h.listMembers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionEdit, rbac.ObjectGroup))
		r.Post("/groups", h.createGroup)
		r.Put("/groups/{id}", h.updateGroup)
		r.Post("/groups/{id}/members", h.addMember)
		r.Delete("/groups/{id}/members/{personID}", h.removeMember)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionDelete, rbac.ObjectGroup))
		r.Delete("/groups/{id}", h.deleteGroup)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var collabErr *rbac.CollaboratorError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &collabErr):
		httpx.Problem(w, http.StatusBadGateway, "Collaborator Unavailable", collabErr.Error())
	default:
		h.logger.Error("directory handler", slog.Any("error", err))
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

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// People

type personResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	IsActive bool      `json:"is_active"`
}

func toPersonResponse(p Person) personResponse {
	return personResponse{ID: p.ID, Name: p.Name, Email: p.Email, IsActive: p.IsActive}
}

func (h *Handler) listPeople(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)

	people, err := h.service.ListPeople(r.Context(), pagination)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]personResponse, 0, len(people))
	for _, p := range people {
		out = append(out, toPersonResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"people": out, "page": pagination.Page})
}

func (h *Handler) getPerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "person id must be a UUID")
		return
	}
	p, err := h.service.GetPerson(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"person": toPersonResponse(p)})
}

type personRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	IsActive *bool  `json:"is_active"`
}

func (h *Handler) createPerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p, err := h.service.CreatePerson(r.Context(), h.actor(r), Person{
		Name:     req.Name,
		Email:    req.Email,
		IsActive: active,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"person": toPersonResponse(p)})
}

func (h *Handler) updatePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "person id must be a UUID")
		return
	}
	var req personRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p, err := h.service.UpdatePerson(r.Context(), h.actor(r), Person{
		ID:       id,
		Name:     req.Name,
		Email:    req.Email,
		IsActive: active,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"person": toPersonResponse(p)})
}

func (h *Handler) deletePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "person id must be a UUID")
		return
	}
	if err := h.service.DeletePerson(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Groups

type groupResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

func toGroupResponse(g Group) groupResponse {
	return groupResponse{ID: g.ID, Name: g.Name, Description: g.Description}
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	g, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"group": toGroupResponse(g)})
}

type groupRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.CreateGroup(r.Context(), h.actor(r), Group{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"group": toGroupResponse(g)})
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	var req groupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.UpdateGroup(r.Context(), h.actor(r), Group{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"group": toGroupResponse(g)})
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	if err := h.service.DeleteGroup(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Membership

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]personResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toPersonResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": out})
}

type memberRequest struct {
	PersonID uuid.UUID `json:"person_id" validate:"required"`
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	var req memberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AddMember(r.Context(), h.actor(r), id, req.PersonID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "group id must be a UUID")
		return
	}
	personID, err := pathID(r, "personID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "person id must be a UUID")
		return
	}
	if err := h.service.RemoveMember(r.Context(), h.actor(r), id, personID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
