package assets

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

// Handler exposes the asset inventory JSON API.
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

// deviceIDFromPath feeds the guard the device a route addresses, so
// location scoped assignments are enforced per object.
func deviceIDFromPath(r *http.Request) *uuid.UUID {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil
	}
	return &id
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionView, rbac.ObjectLocation))
		r.Get("/locations", h.listLocations)
		r.Get("/locations/{id}", h.getLocation)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionEdit, rbac.ObjectLocation))
		r.Post("/locations", h.createLocation)
		r.Put("/locations/{id}", h.updateLocation)
		r.Post("/placements", h.placeObject)
		r.Delete("/placements/{objectType}/{objectID}", h.removePlacement)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionDelete, rbac.ObjectLocation))
		r.Delete("/locations/{id}", h.deleteLocation)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionView, rbac.ObjectDevice))
		r.Get("/devices", h.listDevices)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireObject(rbac.ActionView, rbac.ObjectDevice, deviceIDFromPath))
		r.Get("/devices/{id}", h.getDevice)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.ActionEdit, rbac.ObjectDevice))
		r.Post("/devices", h.createDevice)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireObject(rbac.ActionEdit, rbac.ObjectDevice, deviceIDFromPath))
		r.Put("/devices/{id}", h.updateDevice)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireObject(rbac.ActionDelete, rbac.ObjectDevice, deviceIDFromPath))
		r.Delete("/devices/{id}", h.deleteDevice)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalidErr *rbac.InvalidAssignmentError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &invalidErr):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", invalidErr.Error())
	default:
		h.logger.Error("assets handler", slog.Any("error", err))
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

// Locations

type locationResponse struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Address  string     `json:"address,omitempty"`
	ParentID *uuid.UUID `json:"parent_location_id,omitempty"`
}

func toLocationResponse(l Location) locationResponse {
	return locationResponse{ID: l.ID, Name: l.Name, Address: l.Address, ParentID: l.ParentID}
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.ListLocations(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]locationResponse, 0, len(locations))
	for _, l := range locations {
		out = append(out, toLocationResponse(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": out})
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "location id must be a UUID")
		return
	}
	l, err := h.service.GetLocation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"location": toLocationResponse(l)})
}

type locationRequest struct {
	Name     string     `json:"name" validate:"required,max=200"`
	Address  string     `json:"address"`
	ParentID *uuid.UUID `json:"parent_location_id"`
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	l, err := h.service.CreateLocation(r.Context(), h.actor(r), Location{
		Name:     req.Name,
		Address:  req.Address,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"location": toLocationResponse(l)})
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "location id must be a UUID")
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	l, err := h.service.UpdateLocation(r.Context(), h.actor(r), Location{
		ID:       id,
		Name:     req.Name,
		Address:  req.Address,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"location": toLocationResponse(l)})
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "location id must be a UUID")
		return
	}
	if err := h.service.DeleteLocation(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Devices

type deviceResponse struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Category     string       `json:"category,omitempty"`
	SerialNumber string       `json:"serial_number,omitempty"`
	Status       DeviceStatus `json:"status"`
	LocationID   *uuid.UUID   `json:"location_id,omitempty"`
	OwnerID      *uuid.UUID   `json:"owner_id,omitempty"`
}

func toDeviceResponse(d Device) deviceResponse {
	return deviceResponse{
		ID:           d.ID,
		Name:         d.Name,
		Category:     d.Category,
		SerialNumber: d.SerialNumber,
		Status:       d.Status,
		LocationID:   d.LocationID,
		OwnerID:      d.OwnerID,
	}
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var locationID *uuid.UUID
	if raw := q.Get("location_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "location_id must be a UUID")
			return
		}
		locationID = &id
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)

	devices, err := h.service.ListDevices(r.Context(), locationID, pagination)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"devices": out, "page": pagination.Page})
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "device id must be a UUID")
		return
	}
	d, err := h.service.GetDevice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"device": toDeviceResponse(d)})
}

type deviceRequest struct {
	Name         string       `json:"name" validate:"required,max=200"`
	Category     string       `json:"category" validate:"max=100"`
	SerialNumber string       `json:"serial_number" validate:"max=100"`
	Status       DeviceStatus `json:"status" validate:"omitempty,oneof=in_stock in_service retired"`
	LocationID   *uuid.UUID   `json:"location_id"`
	OwnerID      *uuid.UUID   `json:"owner_id"`
}

func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.CreateDevice(r.Context(), h.actor(r), Device{
		Name:         req.Name,
		Category:     req.Category,
		SerialNumber: req.SerialNumber,
		Status:       req.Status,
		LocationID:   req.LocationID,
		OwnerID:      req.OwnerID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"device": toDeviceResponse(d)})
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "device id must be a UUID")
		return
	}
	var req deviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.Status == "" {
		req.Status = DeviceInStock
	}
	d, err := h.service.UpdateDevice(r.Context(), h.actor(r), Device{
		ID:           id,
		Name:         req.Name,
		Category:     req.Category,
		SerialNumber: req.SerialNumber,
		Status:       req.Status,
		LocationID:   req.LocationID,
		OwnerID:      req.OwnerID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"device": toDeviceResponse(d)})
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "device id must be a UUID")
		return
	}
	if err := h.service.DeleteDevice(r.Context(), h.actor(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Placements

type placementRequest struct {
	ObjectType rbac.ObjectType `json:"object_type" validate:"required"`
	ObjectID   uuid.UUID       `json:"object_id" validate:"required"`
	LocationID uuid.UUID       `json:"location_id" validate:"required"`
}

func (h *Handler) placeObject(w http.ResponseWriter, r *http.Request) {
	var req placementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.PlaceObject(r.Context(), h.actor(r), req.ObjectType, req.ObjectID, req.LocationID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removePlacement(w http.ResponseWriter, r *http.Request) {
	objectID, err := pathID(r, "objectID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "object id must be a UUID")
		return
	}
	objectType := rbac.ObjectType(chi.URLParam(r, "objectType"))
	if !objectType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Type", "unknown object type")
		return
	}
	if err := h.service.RemovePlacement(r.Context(), h.actor(r), objectType, objectID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
