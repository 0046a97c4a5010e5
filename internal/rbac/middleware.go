package rbac

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/shared"
)

// Middleware wires RBAC enforcement for HTTP handlers.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// ObjectIDResolver extracts the object instance targeted by a request,
// when the route addresses one. Nil means a type-level check.
type ObjectIDResolver func(r *http.Request) *uuid.UUID

// Require ensures the current person is granted (action, objectType) at
// the type level before the handler runs.
func (m Middleware) Require(action Action, objectType ObjectType) func(http.Handler) http.Handler {
	return m.RequireObject(action, objectType, nil)
}

// RequireObject enforces (action, objectType) against the object the
// resolver extracts from the request.
func (m Middleware) RequireObject(action Action, objectType ObjectType, resolve ObjectIDResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			personID, ok := m.currentPerson(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			var objectID *uuid.UUID
			if resolve != nil {
				objectID = resolve(r)
			}
			decision, err := m.Engine.Decide(r.Context(), personID, action, objectType, objectID)
			if err != nil {
				status := http.StatusInternalServerError
				var collabErr *CollaboratorError
				if errors.As(err, &collabErr) {
					status = http.StatusBadGateway
				}
				if m.Logger != nil {
					m.Logger.Error("rbac enforce", slog.String("action", string(action)), slog.String("object_type", string(objectType)), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(status), status)
				return
			}
			if !decision.Granted {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentPerson(r *http.Request) (uuid.UUID, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return uuid.Nil, false
	}
	return sess.Person()
}
