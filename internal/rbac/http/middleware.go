package rbachttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prismcms/prism/internal/platform/httpx"
	"github.com/prismcms/prism/internal/rbac"
)

// Principal identifies the authenticated caller for a request. The
// authentication layer owns how it is established; this package only
// consumes it from the request context.
type Principal struct {
	ID   string
	Role rbac.RoleID
}

// PrincipalResolver extracts the principal from a request. Returning false
// denies the request before any permission check runs.
type PrincipalResolver func(r *http.Request) (Principal, bool)

// OwnershipResolver reports whether the caller owns the object targeted by
// the request. Only consulted for own-scoped checks; a nil resolver means
// ownership is never satisfied.
type OwnershipResolver func(r *http.Request) bool

// PrincipalFromHeaders resolves the principal from gateway headers. Only
// for deployments where an upstream authentication proxy sets them; the
// service must not be reachable any other way.
func PrincipalFromHeaders(r *http.Request) (Principal, bool) {
	id := r.Header.Get("X-Principal-Id")
	role := r.Header.Get("X-Principal-Role")
	if id == "" || role == "" {
		return Principal{}, false
	}
	return Principal{ID: id, Role: rbac.RoleID(role)}, true
}

// PrincipalTracker learns which principals are hot. The warmer implements
// it; tracked principals are the working set for scheduled cache warms.
type PrincipalTracker interface {
	Register(principalID string, role rbac.RoleID)
}

// Middleware wires permission checks in front of HTTP handlers.
type Middleware struct {
	Checker   *rbac.Checker
	Principal PrincipalResolver
	Ownership OwnershipResolver
	Tracker   PrincipalTracker
	Logger    *slog.Logger
}

// Require guards a handler with a single permission check.
func (m Middleware) Require(resource, action string, scope rbac.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.resolvePrincipal(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !m.check(w, r, principal, rbac.Permission{Resource: resource, Action: action, Scope: scope}) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoute guards a handler with the permissions mapped to the chi
// route pattern. Unmapped routes are denied outright: a route that should
// be open must not be behind this middleware.
func (m Middleware) RequireRoute() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern := routePattern(r)
			required, err := m.Checker.Catalog().GetRouteMapping(pattern)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Warn("no route mapping", slog.String("pattern", pattern))
				}
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			principal, ok := m.resolvePrincipal(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			for _, perm := range required {
				if !m.check(w, r, principal, perm) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) resolvePrincipal(r *http.Request) (Principal, bool) {
	if m.Principal == nil {
		return Principal{}, false
	}
	principal, ok := m.Principal(r)
	if ok && m.Tracker != nil {
		m.Tracker.Register(principal.ID, principal.Role)
	}
	return principal, ok
}

// check runs one permission check and writes the failure response itself.
// Returns true when the request may proceed.
func (m Middleware) check(w http.ResponseWriter, r *http.Request, principal Principal, perm rbac.Permission) bool {
	ownership := false
	if m.Ownership != nil {
		ownership = m.Ownership(r)
	}
	decision, err := m.Checker.CheckPermission(r.Context(), rbac.CheckRequest{
		PrincipalID:        principal.ID,
		Role:               principal.Role,
		Resource:           perm.Resource,
		Action:             perm.Action,
		Scope:              perm.Scope,
		OwnershipSatisfied: ownership,
	})
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("permission check", slog.Any("error", err))
		}
		if errors.Is(err, rbac.ErrTimeout) {
			httpx.RespondError(w, httpx.ErrTimeout)
			return false
		}
		httpx.RespondError(w, httpx.ErrForbidden)
		return false
	}
	if !decision.Allowed {
		httpx.RespondError(w, httpx.ErrForbidden)
		return false
	}
	return true
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
