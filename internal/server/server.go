package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sendrec/portal/internal/auth"
	"github.com/sendrec/portal/internal/catalog"
	"github.com/sendrec/portal/internal/database"
	"github.com/sendrec/portal/internal/docs"
	"github.com/sendrec/portal/internal/ratelimit"
	"github.com/sendrec/portal/internal/signal"
)

const (
	DefaultVerifyRate  = 0.5
	DefaultVerifyBurst = 5
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB          database.DBTX
	Pinger      Pinger
	Bus         signal.Bus
	JWTSecret   string
	BaseURL     string
	VerifyRate  float64
	VerifyBurst int
	EnableDocs  bool
}

type Server struct {
	router         chi.Router
	pinger         Pinger
	jwtSecret      string
	catalogHandler *catalog.Handler
	verifyLimiter  *ratelimit.Limiter
	enableDocs     bool
}

func New(cfg Config) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{BaseURL: cfg.BaseURL}))

	s := &Server{router: r, pinger: cfg.Pinger, enableDocs: cfg.EnableDocs}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required; set the environment variable")
		}
		s.jwtSecret = cfg.JWTSecret
		s.catalogHandler = catalog.NewHandler(cfg.DB, cfg.Bus)

		rate := cfg.VerifyRate
		if rate <= 0 {
			rate = DefaultVerifyRate
		}
		burst := cfg.VerifyBurst
		if burst <= 0 {
			burst = DefaultVerifyBurst
		}
		s.verifyLimiter = ratelimit.NewLimiter(rate, burst)
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	if s.enableDocs {
		s.router.Get("/api/docs", docs.HandleDocs)
		s.router.Get("/api/docs/openapi.yaml", docs.HandleSpec)
	}

	if s.catalogHandler == nil {
		return
	}

	h := s.catalogHandler
	s.router.Get("/api/limits", h.Limits)
	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.jwtSecret))

		r.Get("/api/sections", h.ListSections)
		r.Get("/api/items", h.ListItems)

		r.Group(func(r chi.Router) {
			r.Use(s.verifyLimiter.Middleware)
			r.Post("/api/sections/{id}/verify", h.VerifySection)
			r.Post("/api/items/{id}/verify", h.VerifyItem)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Put("/sections/{id}", h.UpsertSection)
			r.Delete("/sections/{id}", h.DeleteSection)
			r.Put("/sections/{id}/password", h.SetSectionPassword)
			r.Delete("/sections/{id}/password", h.ClearSectionPassword)
			r.Put("/items/{id}", h.UpsertItem)
			r.Delete("/items/{id}", h.DeleteItem)
			r.Put("/items/{id}/password", h.SetItemPassword)
			r.Delete("/items/{id}/password", h.ClearItemPassword)
			r.Post("/refresh-signal", h.BroadcastRefresh)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
