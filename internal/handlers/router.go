// internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"optiquantia/internal/events"
	"optiquantia/internal/handlers/session"
	"optiquantia/internal/handlers/userdata"
	"optiquantia/internal/middleware"
)

// Resolver is everything the routes need from the session resolver.
type Resolver interface {
	session.Resolver
	middleware.IdentitySource
}

type Deps struct {
	Resolver   Resolver
	UserData   userdata.Service
	Notices    *events.NoticeLog
	Log        *zap.Logger
	LoginRate  float64
	LoginBurst int
}

// NewRouter builds the API router. CORS is added by the caller.
func NewRouter(d Deps) *chi.Mux {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Logger(d.Log))
	mux.Use(chimw.Recoverer)

	RegisterRoutes(mux, d)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})
	return mux
}

func RegisterRoutes(mux chi.Router, d Deps) {
	sh := session.New(d.Resolver, d.Notices)
	uh := userdata.New(d.UserData)
	limiter := middleware.NewRateLimiter(d.LoginRate, d.LoginBurst)

	mux.Route("/api", func(api chi.Router) {
		api.Get("/session", sh.Get)
		api.Post("/session/refresh", sh.Refresh)
		api.With(limiter.Handler).Post("/session/login", sh.Login)
		api.With(limiter.Handler).Post("/session/register", sh.Register)
		api.Post("/session/logout", sh.Logout)
		api.Patch("/profile", sh.UpdateProfile)
		api.Get("/notices", sh.Notices)

		// Guarded routes: apply the identity check to the whole group once
		api.Group(func(sr chi.Router) {
			sr.Use(middleware.RequireIdentity(d.Resolver))

			sr.Get("/reports", uh.ListReports)
			sr.Post("/reports", uh.CreateReport)
			sr.Get("/dashboards", uh.ListDashboards)
			sr.Post("/dashboards", uh.CreateDashboard)
			sr.Get("/activity", uh.ListActivity)
			sr.Post("/activity/ai", uh.RecordAIUse)

			sr.With(middleware.RequireAdmin).Get("/admin/users/{userID}/activity", uh.ListUserActivity)
		})
	})
}
