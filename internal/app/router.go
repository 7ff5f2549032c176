package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/topoclimb/topoclimb/internal/auth"
	"github.com/topoclimb/topoclimb/internal/catalog"
	"github.com/topoclimb/topoclimb/internal/observability"
	"github.com/topoclimb/topoclimb/internal/rbac"
	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
	"github.com/topoclimb/topoclimb/jobs"
	"github.com/topoclimb/topoclimb/report"
	"github.com/topoclimb/topoclimb/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware

	AuthHandler         *auth.Handler
	CatalogHandler      *catalog.Handler
	CatalogAdminHandler *catalog.AdminHandler
	CatalogAPIHandler   *catalog.APIHandler
	JobHandler          *jobs.Handler
	ReportHandler       *report.Handler
	Metrics             *observability.Metrics

	// HealthCheck reports backing service readiness; nil means always ready.
	HealthCheck func(r *http.Request) error
}

// NewRouter constructs the chi.Router with TopoClimb defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		Templates:      params.Templates,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.HealthCheck != nil {
			if err := params.HealthCheck(r); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	requireUser := params.RBACMiddleware.RequireUser()

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.CatalogHandler != nil {
		params.CatalogHandler.MountRoutes(r, requireUser)
	}
	if params.ReportHandler != nil {
		params.ReportHandler.MountRoutes(r)
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireRole(rbac.RoleAdmin))
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
		if params.CatalogAdminHandler != nil {
			params.CatalogAdminHandler.MountRoutes(r)
		}
	})
	if params.CatalogAPIHandler != nil {
		r.Route("/api/v1", func(r chi.Router) {
			params.CatalogAPIHandler.MountRoutes(r, requireUser)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
