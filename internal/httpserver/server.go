package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/config"
	"github.com/productcareerlyst/careerlyst/backend/internal/handlers"
	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/middleware"
	"github.com/productcareerlyst/careerlyst/backend/internal/worker"
)

// Deps are the collaborators the router dispatches to. Nil handlers are not
// mounted.
type Deps struct {
	DB            handlers.Pinger
	Reconciler    handlers.Reconciler
	Subscriptions handlers.SubscriptionReader
	Webhooks      billing.WebhookVerifier
	Events        handlers.EventQueue
	Prospects     handlers.ProspectService
	Jobs          handlers.JobQueue
	Worker        *worker.Worker
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	logger     *zap.Logger
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.NewRequestTracker(deps.Metrics, logger).Middleware())
	router.Use(chimw.Recoverer)

	router.Get("/healthz", handlers.Health)
	router.Get("/readyz", handlers.Ready(deps.DB))
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Signed by the provider, not by a user session.
	if deps.Webhooks != nil && deps.Events != nil {
		handlers.NewWebhookHandler(deps.Webhooks, deps.Events, logger).RegisterRoutes(router)
	}

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, logger)
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		if deps.Reconciler != nil && deps.Subscriptions != nil {
			handlers.NewSubscriptionHandler(deps.Reconciler, deps.Subscriptions, logger).RegisterRoutes(r)
		}
		if deps.Prospects != nil {
			handlers.NewProspectHandler(deps.Prospects, logger).RegisterRoutes(r)
		}
		if deps.Jobs != nil {
			handlers.NewJobHandler(deps.Jobs, logger).RegisterRoutes(r)
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      otelhttp.NewHandler(router, "careerlyst-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, logger: logger.Named("server")}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		s.logger.Info("starting job worker")
		s.worker.Start(ctx)
	}
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		s.logger.Info("shutting down job worker")
		if err := s.worker.Stop(ctx); err != nil {
			s.logger.Warn("worker shutdown error", zap.Error(err))
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
