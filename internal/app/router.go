package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/auth"
	"github.com/sentra-iam/sentra/internal/features"
	"github.com/sentra-iam/sentra/internal/groups"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/resolver"
	"github.com/sentra-iam/sentra/internal/roles"
	"github.com/sentra-iam/sentra/internal/users"
)

const healthCheckTimeout = 2 * time.Second

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Pool               *pgxpool.Pool
	AuthMiddleware     auth.Middleware
	TokensHandler      *auth.Handler
	PermissionsHandler *permissions.Handler
	RolesHandler       *roles.Handler
	GroupsHandler      *groups.Handler
	FeaturesHandler    *features.Handler
	UsersHandler       *users.Handler
	ResolverHandler    *resolver.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
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

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
			defer cancel()
			if err := params.Pool.Ping(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.AuthMiddleware.Authenticate)

		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/groups", params.GroupsHandler.MountRoutes)
		r.Route("/features", params.FeaturesHandler.MountRoutes)
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/tokens", params.TokensHandler.MountRoutes)
		r.Route("/access", params.ResolverHandler.MountRoutes)
	})

	return r
}
