package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

// New builds the chi router with the ambient middleware stack applied to
// every route. Identity resolution and policy enforcement are applied
// per-route by the proxy and admin sub-routers, not here: /v1/* and
// /admin/* have different auth models.
func New(port int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(QuotaHeaderMiddleware)
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "openwebui-gateway")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		http:   &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r},
	}
}

// Start blocks serving the router until Shutdown is called or the listener
// fails. http.ErrServerClosed from a clean Shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener created by New.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
