package api

import (
	"net/http"

	"github.com/fileregistry/backend/internal/auth"
	"github.com/fileregistry/backend/internal/events"
	"github.com/fileregistry/backend/internal/health"
	"github.com/fileregistry/backend/internal/metrics"
)

type Router struct {
	mux           *http.ServeMux
	authHandlers  *auth.Handlers
	authService   *auth.Service
	fileHandlers  *FileHandlers
	eventsHandler *events.Handler
	healthChecker *health.Checker
}

func NewRouter(
	authHandlers *auth.Handlers,
	authService *auth.Service,
	fileHandlers *FileHandlers,
	eventsHandler *events.Handler,
	healthChecker *health.Checker,
) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		authHandlers:  authHandlers,
		authService:   authService,
		fileHandlers:  fileHandlers,
		eventsHandler: eventsHandler,
		healthChecker: healthChecker,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Operational endpoints
	r.mux.Handle("GET /health", r.healthChecker.Handler())
	r.mux.Handle("GET /metrics", metrics.Handler())

	// Auth routes (no bearer token required)
	r.mux.HandleFunc("POST /signup", r.authHandlers.Signup)
	r.mux.HandleFunc("POST /signin", r.authHandlers.Signin)
	r.mux.HandleFunc("POST /signin/new_token", r.authHandlers.Refresh)

	// Protected routes
	r.mux.HandleFunc("GET /info", r.withAuth(r.authHandlers.Info))
	// Logout burns every refresh token the user holds.
	r.mux.HandleFunc("GET /logout", r.withAuth(r.authHandlers.Logout))

	r.mux.HandleFunc("POST /file/upload", r.withAuth(r.fileHandlers.Upload))
	r.mux.HandleFunc("PUT /file/update/{id}", r.withAuth(r.fileHandlers.Update))
	r.mux.HandleFunc("DELETE /file/delete/{id}", r.withAuth(r.fileHandlers.Delete))
	r.mux.HandleFunc("GET /file/download/{id}", r.withAuth(r.fileHandlers.Download))
	r.mux.HandleFunc("GET /file/list", r.withAuth(r.fileHandlers.List))
	r.mux.HandleFunc("GET /file/{id}", r.withAuth(r.fileHandlers.Get))

	// Websocket subscribers authenticate via query param inside the handler.
	if r.eventsHandler != nil {
		r.mux.HandleFunc("GET /events", r.eventsHandler.ServeWS)
	}
}

func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	middleware := auth.Middleware(r.authService)
	return func(w http.ResponseWriter, req *http.Request) {
		middleware(http.HandlerFunc(next)).ServeHTTP(w, req)
	}
}
