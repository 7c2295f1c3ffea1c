package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"voxagent/internal/config"
	apierrors "voxagent/internal/errors"
	"voxagent/internal/identity"
	"voxagent/internal/services"
)

// Server is the local control API.
type Server struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer assembles the control API around the identity store and the
// activation service. metricsHandler serves /metrics and may be nil.
func NewServer(cfg config.ServerConfig, store *identity.Store, activationSvc *services.ActivationService, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "control-api"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.RateLimit.IsEnabled() {
		r.Use(rateLimitMiddleware(cfg.RateLimit, logger))
	}

	healthHandler := NewHealthHandler(store, logger)
	identityHandler := NewIdentityHandler(store, logger)
	activationHandler := NewActivationHandler(activationSvc, logger)

	r.Get("/healthz", healthHandler.Health)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/identity", identityHandler.Identity)
		r.Route("/activate", func(r chi.Router) {
			r.Post("/", activationHandler.Start)
			r.Post("/cancel", activationHandler.Cancel)
			r.Get("/status", activationHandler.Status)
		})
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		httpSrv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("control API listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// rateLimitMiddleware applies a process-wide token bucket to the control
// API. The API is local and low-traffic; a single shared limiter is
// enough.
func rateLimitMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("control API rate limit exceeded",
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr),
				)
				render.Render(w, r, apierrors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
