package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Speedy6451/avarus/server"
)

// App binds a *server.Server to the HTTP surface described in spec.md
// section 6.
type App struct {
	srv  *server.Server
	log  *slog.Logger
	port string
}

// NewApp builds an App serving srv. port is substituted into the
// client.lua template.
func NewApp(srv *server.Server, port string, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{srv: srv, log: log, port: port}
}

// Router builds the chi.Router exposing every route in spec.md section 6.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Route("/turtle", func(r chi.Router) {
		r.Post("/new", a.handleNew)
		r.Post("/{id}/update", a.handleUpdate)
		r.Post("/{id}/setPosition", a.handleSetPosition)
		r.Get("/{id}/register", a.handleRegister)

		r.Post("/createMine", a.handleCreateMine)
		r.Post("/createTreeFarm", a.handleCreateTreeFarm)
		r.Post("/build", a.handleBuild)
		r.Post("/registerDepot", a.handleRegisterDepot)
		r.Post("/{id}/setGoal", a.handleSetGoal)
		r.Post("/{id}/dock", a.handleDock)
		r.Post("/{id}/manual", a.handleManual)
		r.Post("/{id}/cancelTask", a.handleCancelTask)
		r.Get("/updateAll", a.handleUpdateAll)
		r.Get("/pollScheduler", a.handlePollScheduler)
		r.Get("/shutdown", a.handleShutdown)
		r.Get("/{id}/info", a.handleInfo)
		r.Get("/client.lua", a.handleClientLua)
	})
	r.Get("/flush", a.handleFlush)

	return r
}

// logRequests is a thin slog-based request logger, standing in for the
// teacher's own structured-logging middleware convention.
func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
