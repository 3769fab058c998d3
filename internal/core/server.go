// Package core provides the API chassis for the scheduled payments service.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, logging, and rate limiting -- before
// requests reach domain-specific handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paysched/internal/config"
	"paysched/internal/ratelimit"
)

// Server encapsulates the dependencies of the HTTP surface, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Limiter   *ratelimit.Limiter

	// HealthProbes are checked by GET /health. Registered by the
	// application entry point.
	HealthProbes []HealthProbe

	// V1RouteRegistrars register domain handler routes under /v1. Populated
	// by the application entry point to avoid import cycles between core
	// and handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction; this separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger, limiter *ratelimit.Limiter) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Limiter:   limiter,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
