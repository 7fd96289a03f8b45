package http

import (
	"context"
	"net/http"
	"time"

	"github.com/bnema/montage/internal/adapter/http/middleware"
	"github.com/bnema/montage/internal/adapter/http/ratelimit"
	"github.com/bnema/montage/internal/port"
)

type Options struct {
	Auth        AuthService
	Editor      Editor
	Runner      JobControl
	Jobs        port.JobStore
	Events      Subscriber
	Secret      string
	Version     string
	BehindProxy bool
	// Guard overrides the default login throttle.
	Guard *ratelimit.Guard
}

type Server struct {
	mux         *http.ServeMux
	handler     http.Handler
	handlers    *Handlers
	sseHandler  *SSEHandler
	authSvc     AuthService
	guard       *ratelimit.Guard
	csrf        *middleware.CSRF
	behindProxy bool
	version     string
}

func NewServer(opts Options) *Server {
	guard := opts.Guard
	if guard == nil {
		guard = ratelimit.NewGuard(
			5,
			15*time.Minute,
			30*time.Minute,
			ratelimit.NewBackoff(500*time.Millisecond, 10*time.Second, 2.0),
		)
	}

	s := &Server{
		mux:         http.NewServeMux(),
		handlers:    NewHandlers(opts.Editor, opts.Runner, opts.Jobs, opts.Version),
		sseHandler:  NewSSEHandler(opts.Events, opts.Runner, opts.Jobs),
		authSvc:     opts.Auth,
		guard:       guard,
		csrf:        middleware.NewCSRF(opts.Secret),
		behindProxy: opts.BehindProxy,
		version:     opts.Version,
	}
	s.registerRoutes()
	s.handler = middleware.AccessLog(middleware.SecurityHeaders(s.csrf.Protect(s.mux)))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handlers.Health())

	setupHandler := SetupHandler(s.authSvc, s.version, s.behindProxy)
	s.mux.HandleFunc("GET /setup", setupHandler)
	s.mux.HandleFunc("POST /setup", setupHandler)

	loginHandler := LoginHandler(s.authSvc, s.guard, s.version, s.behindProxy)
	s.mux.HandleFunc("GET /login", loginHandler)
	s.mux.HandleFunc("POST /login", loginHandler)

	s.mux.HandleFunc("POST /logout", s.auth(LogoutHandler(s.behindProxy)))
	s.mux.HandleFunc("POST /change-password", s.auth(ChangePasswordHandler(s.authSvc)))

	s.mux.HandleFunc("GET /{$}", s.auth(s.handlers.Dashboard()))

	s.mux.HandleFunc("GET /api/items", s.auth(s.handlers.ListItems()))
	s.mux.HandleFunc("POST /api/items", s.auth(s.handlers.AddItem()))
	s.mux.HandleFunc("POST /api/items/shuffle", s.auth(s.handlers.Shuffle()))
	s.mux.HandleFunc("PATCH /api/items/{id}", s.auth(s.handlers.EditItem()))
	s.mux.HandleFunc("DELETE /api/items/{id}", s.auth(s.handlers.RemoveItem()))
	s.mux.HandleFunc("POST /api/items/{id}/move", s.auth(s.handlers.MoveItem()))
	s.mux.HandleFunc("POST /api/items/{id}/effects", s.auth(s.handlers.AddEffect()))
	s.mux.HandleFunc("DELETE /api/items/{id}/effects/{index}", s.auth(s.handlers.RemoveEffect()))

	s.mux.HandleFunc("GET /api/tracks", s.auth(s.handlers.ListTracks()))
	s.mux.HandleFunc("POST /api/tracks", s.auth(s.handlers.AddTrack()))
	s.mux.HandleFunc("PATCH /api/tracks/{id}", s.auth(s.handlers.UpdateTrack()))
	s.mux.HandleFunc("DELETE /api/tracks/{id}", s.auth(s.handlers.RemoveTrack()))

	s.mux.HandleFunc("POST /api/preview", s.auth(s.handlers.Preview()))
	s.mux.HandleFunc("POST /api/export", s.auth(s.handlers.Export()))
	s.mux.HandleFunc("GET /api/jobs", s.auth(s.handlers.ListJobs()))
	s.mux.HandleFunc("GET /api/jobs/{id}", s.auth(s.handlers.GetJob()))
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.auth(s.handlers.CancelJob()))

	s.mux.HandleFunc("GET /events/{jobID}", s.auth(s.sseHandler.Events()))
	s.mux.HandleFunc("GET /preview/{jobID}", s.auth(s.handlers.ServePreview()))
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return AuthMiddleware(s.authSvc, next)
}

// RunMaintenance evicts idle login-throttle entries until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context) {
	s.guard.Run(ctx, time.Minute)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
