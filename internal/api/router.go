// Package api provides the read-only REST query layer over mandrake's trace
// archive: list recent runs and fetch one run's full trace. A chi router
// with RequestID/RealIP/Recoverer middleware, an optional RS256 JWT auth
// gate in front of the /api routes, and JSON error responses shaped
// {"error": "..."}.
package api

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/counterhack/mandrake/internal/archive"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store *archive.Archive
}

// NewServer creates a Server backed by store.
func NewServer(store *archive.Archive) *Server {
	return &Server{store: store}
}

// NewRouter returns a configured chi.Router for mandrake's query API.
//
// Route layout:
//
//	GET /healthz           – liveness probe (no authentication required)
//	GET /api/v1/runs       – list recent runs (JWT required if pubKey is set)
//	GET /api/v1/runs/{id}  – fetch one run's full trace (JWT required if pubKey is set)
//
// Pass pubKey as nil to disable JWT validation.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/runs", srv.handleListRuns)
		r.Get("/runs/{id}", srv.handleGetRun)
	})

	return r
}
