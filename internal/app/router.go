package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/prismcms/prism/internal/observability"
	"github.com/prismcms/prism/internal/rbac"
	rbachttp "github.com/prismcms/prism/internal/rbac/http"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Metrics      *observability.Metrics
	Guard        rbachttp.Middleware
	AdminHandler *rbachttp.Handler
}

// NewRouter constructs the chi.Router for the service. The admin surface
// is itself permission-guarded: managing roles requires the roles
// permissions from the active catalog.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/admin/rbac", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Require("roles", "view", rbac.ScopeAll))
			params.AdminHandler.ReadRoutes(r)
		})
		// Config imports are expensive full-catalog swaps; keep them rare.
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Require("roles", "update", rbac.ScopeAll))
			r.Use(httprate.LimitByIP(10, time.Minute))
			params.AdminHandler.WriteRoutes(r)
		})
	})

	return r
}
