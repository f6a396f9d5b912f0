package rbachttp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prismcms/prism/internal/platform/httpx"
	"github.com/prismcms/prism/internal/rbac"
)

// Handler exposes the catalog and cache administration endpoints.
type Handler struct {
	Checker *rbac.Checker
	Warmer  *rbac.Warmer
	Logger  *slog.Logger
}

// Routes mounts every admin endpoint on the given router. Callers that
// want separate guards for reads and mutations use ReadRoutes and
// WriteRoutes directly.
func (h *Handler) Routes(r chi.Router) {
	h.ReadRoutes(r)
	h.WriteRoutes(r)
}

// ReadRoutes mounts the read-only admin endpoints.
func (h *Handler) ReadRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Get("/roles/{id}", h.getRole)
	r.Get("/config", h.exportConfig)
	r.Get("/config/validate", h.validateConfig)
	r.Get("/cache/stats", h.cacheStats)
}

// WriteRoutes mounts the mutating admin endpoints.
func (h *Handler) WriteRoutes(r chi.Router) {
	r.Put("/roles/{id}", h.upsertRole)
	r.Post("/config", h.importConfig)
	r.Post("/cache/invalidate", h.invalidateCache)
	r.Post("/cache/warm", h.warmCache)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.Checker.Catalog().ListRoles())
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.Checker.Catalog().GetRole(rbac.RoleID(chi.URLParam(r, "id")))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) upsertRole(w http.ResponseWriter, r *http.Request) {
	var role rbac.Role
	if err := httpx.DecodeJSON(r, &role); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if id := chi.URLParam(r, "id"); role.ID == "" {
		role.ID = rbac.RoleID(id)
	} else if role.ID != rbac.RoleID(id) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "role id does not match path")
		return
	}
	if err := h.Checker.Catalog().UpsertRole(role); err != nil {
		h.respondValidation(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) exportConfig(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.Checker.Catalog().Export())
}

func (h *Handler) importConfig(w http.ResponseWriter, r *http.Request) {
	var snap rbac.Snapshot
	if err := httpx.DecodeJSON(r, &snap); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.Checker.Catalog().Import(snap); err != nil {
		h.respondValidation(w, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("permission config imported", slog.Uint64("generation", h.Checker.Catalog().Generation()))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"generation": h.Checker.Catalog().Generation()})
}

func (h *Handler) validateConfig(w http.ResponseWriter, r *http.Request) {
	violations := h.Checker.Catalog().Validate()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.Checker.Cache().Stats())
}

type invalidateRequest struct {
	PrincipalID string `json:"principal_id"`
	All         bool   `json:"all"`
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	switch {
	case req.All:
		h.Checker.Cache().InvalidateAll()
	case req.PrincipalID != "":
		if h.Warmer != nil {
			h.Warmer.Deactivate(req.PrincipalID)
		} else {
			h.Checker.Cache().Invalidate(req.PrincipalID)
		}
	default:
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "principal_id or all required")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type warmRequest struct {
	Permissions []rbac.Permission `json:"permissions"`
}

func (h *Handler) warmCache(w http.ResponseWriter, r *http.Request) {
	if h.Warmer == nil {
		httpx.Problem(w, http.StatusConflict, "Warmer Disabled", "no warmer configured")
		return
	}
	var req warmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.Warmer.Warm(r.Context(), req.Permissions); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondValidation(w http.ResponseWriter, err error) {
	var verr *rbac.ValidationError
	if errors.As(err, &verr) {
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":      "Invalid Configuration",
			"violations": verr.Violations,
		})
		return
	}
	httpx.RespondError(w, err)
}
