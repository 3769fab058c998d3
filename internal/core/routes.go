package core

import (
	"github.com/go-chi/chi/v5"
)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs. Authorization carries the credential that is replayed on
// payment execution; it must never reach log output.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes defines the top-level routing hierarchy: the global middleware
// chain, the /v1 API group, and the health check.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer     - Catches panics; outermost to catch all failures.
//  2. RequestID     - Generates/propagates correlation ID for tracing.
//  3. RequestLogger - Structured logging (redacted headers).
//  4. RateLimit     - Fixed-window admission; applies to every route,
//     health included, so an unauthenticated flood cannot bypass it.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.RateLimit)
}

// mountV1 registers all v1 endpoints. Domain handler routes are registered
// via V1RouteRegistrars, populated by the application entry point. This
// indirection avoids import cycles between core and handler packages.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}
