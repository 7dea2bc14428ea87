package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/sunlog-api/internal/api"
	apiMiddleware "github.com/phrazzld/sunlog-api/internal/api/middleware"
)

// uploadRequestFiles bounds how many maximum-size files fit in one upload body.
const uploadRequestFiles = 20

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	return newRouter(routerDeps{
		handler: api.NewPoolHandler(
			app.poolService,
			app.config.Pool.MaxFileBytes,
			app.config.Pool.MaxFileBytes*uploadRequestFiles,
			app.logger,
		),
		auth:   apiMiddleware.NewAuthMiddleware(app.jwtService, app.members),
		logger: app.logger,
	})
}

type routerDeps struct {
	handler *api.PoolHandler
	auth    *apiMiddleware.AuthMiddleware
	logger  *slog.Logger
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(deps.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			deps.logger.Error("Failed to write health check response", "error", err)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.auth.Authenticate)
		r.Use(deps.auth.RequireMembership)
		deps.handler.Register(r)
	})

	return r
}
